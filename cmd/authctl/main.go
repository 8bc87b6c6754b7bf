// authctl exercises the authenticator SDK from the command line: enroll
// this machine, list and delete local enrollments, and pull pending
// challenges. Configuration comes from AUTHN_* env vars (see internal/config);
// the bearer token comes from AUTHN_ACCESS_TOKEN.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	authenticator "push-authenticator/sdk"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	a, err := authenticator.NewFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "authctl:", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch os.Args[1] {
	case "enroll":
		err = enroll(ctx, a, os.Args[2:])
	case "list":
		err = list(ctx, a)
	case "delete":
		err = del(ctx, a, os.Args[2:])
	case "pull":
		err = pull(ctx, a, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "authctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: authctl <command> [flags]

commands:
  enroll  -device-token <t> [-user-verification] [-ciba]   enroll this machine
  list                                                     list local enrollments
  delete  -enrollment <id>                                 delete an enrollment
  pull    -enrollment <id>                                 pull pending challenges`)
}

func bearer() (authenticator.AuthToken, error) {
	t := os.Getenv("AUTHN_ACCESS_TOKEN")
	if t == "" {
		return nil, errors.New("AUTHN_ACCESS_TOKEN is not set")
	}
	return authenticator.StaticToken(t), nil
}

func enroll(ctx context.Context, a *authenticator.Authenticator, args []string) error {
	fs := flag.NewFlagSet("enroll", flag.ExitOnError)
	deviceToken := fs.String("device-token", "", "push delivery token")
	uv := fs.Bool("user-verification", false, "provision a user verification key")
	ciba := fs.Bool("ciba", false, "advertise CIBA transaction support")
	fs.Parse(args)

	token, err := bearer()
	if err != nil {
		return err
	}
	e, err := a.Enroll(ctx, token, authenticator.EnrollParameters{
		DeviceToken:            *deviceToken,
		EnableUserVerification: *uv,
		EnableCIBA:             *ciba,
	})
	if err != nil {
		return err
	}
	userID, username := e.User()
	fmt.Printf("enrolled %s for %s (%s)\n", e.ID(), username, userID)
	return nil
}

func list(ctx context.Context, a *authenticator.Authenticator) error {
	enrollments, err := a.AllEnrollments(ctx)
	if err != nil {
		return err
	}
	if len(enrollments) == 0 {
		fmt.Println("no enrollments")
		return nil
	}
	for _, e := range enrollments {
		orgID, orgURL := e.Org()
		_, username := e.User()
		fmt.Printf("%s  %s  %s  %s  state=%s uv=%v\n", e.ID(), orgID, orgURL, username, e.State(), e.HasUserVerification())
	}
	return nil
}

func find(ctx context.Context, a *authenticator.Authenticator, id string) (*authenticator.Enrollment, error) {
	if id == "" {
		return nil, errors.New("-enrollment is required")
	}
	enrollments, err := a.AllEnrollments(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range enrollments {
		if e.ID() == id {
			return e, nil
		}
	}
	return nil, fmt.Errorf("no local enrollment %q", id)
}

func del(ctx context.Context, a *authenticator.Authenticator, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	id := fs.String("enrollment", "", "enrollment id")
	fs.Parse(args)

	e, err := find(ctx, a, *id)
	if err != nil {
		return err
	}
	token, err := bearer()
	if err != nil {
		return err
	}
	if err := e.DeleteFromDevice(ctx, token); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", *id)
	return nil
}

func pull(ctx context.Context, a *authenticator.Authenticator, args []string) error {
	fs := flag.NewFlagSet("pull", flag.ExitOnError)
	id := fs.String("enrollment", "", "enrollment id")
	fs.Parse(args)

	e, err := find(ctx, a, *id)
	if err != nil {
		return err
	}
	token, err := bearer()
	if err != nil {
		return err
	}
	challenges, err := e.RetrievePushChallenges(ctx, token)
	if err != nil {
		return err
	}
	if len(challenges) == 0 {
		fmt.Println("no pending challenges")
		return nil
	}
	for _, ch := range challenges {
		fmt.Printf("%s  %s  %s  %s\n", ch.TransactionID(), ch.OriginURL(), ch.ClientOS(), ch.ClientLocation())
	}
	return nil
}

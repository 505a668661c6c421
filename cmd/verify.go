package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facegate/internal/capture"
	"github.com/kozaktomas/facegate/internal/flow"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check a password and a face image against an account",
	Long: `Run the login check for an account: the password is verified first,
then the face in the image is compared with the enrolled descriptor.

The command exits with an error unless the account is authenticated.

Examples:
  facegate verify --email jana@example.com --password s3cret --image probe.jpg
  facegate verify --email jana@example.com --image probe.jpg --json`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().String("email", "", "Account email (required)")
	verifyCmd.Flags().String("password", "", "Account password (defaults to FACEGATE_PASSWORD)")
	verifyCmd.Flags().String("image", "", "Image file with the face to verify (required)")
	verifyCmd.Flags().Bool("json", false, "Output as JSON")
	_ = verifyCmd.MarkFlagRequired("email")
	_ = verifyCmd.MarkFlagRequired("image")
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	password, err := passwordFlag(cmd)
	if err != nil {
		return err
	}

	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	camera := capture.NewController(capture.NewFileProvider(mustGetString(cmd, "image")), rt.cfg.Camera.MaxSize,
		capture.WithMaxPixels(rt.cfg.Camera.MaxPixels))
	v := flow.NewVerification(rt.flowDeps(), camera)
	defer v.Close()

	if err := v.CheckCredentials(ctx, mustGetString(cmd, "email"), password); err != nil {
		return err
	}
	if v.State() == flow.VerifyCredentialsChecked {
		if err := v.OpenCamera(ctx); err != nil {
			return err
		}
		if f := v.LastFailure(); f != nil {
			return fmt.Errorf("opening image: %s: %s", f.Reason, f.Message)
		}
		if err := v.Capture(ctx); err != nil {
			return err
		}
	}

	snap := v.Snapshot()
	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return err
		}
	} else {
		printVerification(snap)
	}

	if snap.State != flow.VerifyAuthenticated {
		return fmt.Errorf("verification failed")
	}
	return nil
}

func printVerification(snap flow.VerificationSnapshot) {
	fmt.Printf("State: %s\n", snap.State)
	if snap.Verdict != nil {
		fmt.Printf("Distance: %.4f (match: %v)\n", snap.Verdict.Distance, snap.Verdict.Match)
	}
	if snap.Rejection != nil {
		fmt.Printf("Rejected: %s\n", snap.Rejection.Reason)
	}
	if snap.LastFailure != nil {
		fmt.Printf("Capture failed: %s\n", snap.LastFailure.Reason)
	}
}

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facegate/internal/capture"
	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/flow"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Create an account from an image file",
	Long: `Create an account whose face descriptor is taken from an image file.

The image goes through the same capture and extraction steps as a camera
frame: it must contain exactly one face (or the best face with
MULTI_FACE_POLICY=pick-best).

Examples:
  # Person account
  facegate enroll --email jana@example.com --password s3cret --image jana.jpg \
    --attr fullName="Jana Novakova" --attr phone=+420123456789

  # Company account
  facegate enroll --email hr@acme.test --password s3cret --image rep.jpg --role company \
    --attr companyName=Acme --attr industry=Retail --attr city=Brno`,
	Args: cobra.NoArgs,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("email", "", "Account email (required)")
	enrollCmd.Flags().String("password", "", "Account password (defaults to FACEGATE_PASSWORD)")
	enrollCmd.Flags().String("image", "", "Image file with the face to enroll (required)")
	enrollCmd.Flags().String("role", "user", "Account role: user or company")
	enrollCmd.Flags().StringArray("attr", nil, "Display attribute as key=value (repeatable)")
	enrollCmd.Flags().Bool("json", false, "Output as JSON")
	_ = enrollCmd.MarkFlagRequired("email")
	_ = enrollCmd.MarkFlagRequired("image")
}

// parseAttributes turns key=value pairs into a map.
func parseAttributes(pairs []string) (map[string]string, error) {
	attrs := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid attribute %q, expected key=value", pair)
		}
		attrs[key] = value
	}
	return attrs, nil
}

// passwordFlag reads --password, falling back to FACEGATE_PASSWORD.
func passwordFlag(cmd *cobra.Command) (string, error) {
	if p := mustGetString(cmd, "password"); p != "" {
		return p, nil
	}
	if p := os.Getenv("FACEGATE_PASSWORD"); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("--password or FACEGATE_PASSWORD is required")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	password, err := passwordFlag(cmd)
	if err != nil {
		return err
	}
	attrs, err := parseAttributes(mustGetStringArray(cmd, "attr"))
	if err != nil {
		return err
	}

	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	if rt.backend.Driver == database.DriverMemory {
		fmt.Println("Warning: no DATABASE_URL configured, the account is kept in memory only")
	}

	camera := capture.NewController(capture.NewFileProvider(mustGetString(cmd, "image")), rt.cfg.Camera.MaxSize,
		capture.WithMaxPixels(rt.cfg.Camera.MaxPixels))
	e := flow.NewEnrollment(rt.flowDeps(), camera)
	defer e.Close()

	fmt.Printf("Loading embedding model %s...\n", rt.gate.Source().Name)
	if err := e.Begin(ctx); err != nil {
		return err
	}
	if f := e.LastFailure(); f != nil {
		return fmt.Errorf("opening image: %s: %s", f.Reason, f.Message)
	}
	if err := e.Capture(ctx); err != nil {
		return err
	}
	if e.State() != flow.EnrollDescriptorObtained {
		if f := e.LastFailure(); f != nil {
			return fmt.Errorf("capture failed: %s: %s", f.Reason, f.Message)
		}
		return fmt.Errorf("capture failed in state %s", e.State())
	}
	if err := e.Proceed(); err != nil {
		return err
	}

	err = e.Submit(ctx, flow.Details{
		Identifier: mustGetString(cmd, "email"),
		Secret:     password,
		Role:       mustGetString(cmd, "role"),
		Attributes: attrs,
	})
	if err != nil {
		return err
	}

	snap := e.Snapshot()
	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	fmt.Printf("Enrolled %s\n", snap.Identifier)
	return nil
}

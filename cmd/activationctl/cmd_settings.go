package main

import (
	"fmt"
	"io"
	"os"
	"slices"

	"activation_backend/internal/activations/domain"
	"activation_backend/internal/activations/filter"
	"activation_backend/platform/validator"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Import or export the activation settings as YAML",
}

var settingsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the stored settings to stdout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		svc, err := e.service(false)
		if err != nil {
			return err
		}
		settings, err := svc.GetSettings(cmd.Context())
		if err != nil {
			return err
		}
		return encodeSettings(cmd.OutOrStdout(), settings)
	},
}

var settingsImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Validate and store settings read from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		settings, err := decodeSettings(f, e.val)
		if err != nil {
			return err
		}

		svc, err := e.service(false)
		if err != nil {
			return err
		}
		saved, err := svc.UpdateSettings(cmd.Context(), settings)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "settings imported: %d criteria, %d team members\n", len(saved.Criteria), len(saved.TeamMemberIDs))
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsExportCmd, settingsImportCmd)
}

// encodeSettings writes settings as YAML with filter logic in display form.
func encodeSettings(w io.Writer, s domain.Settings) error {
	s.Criteria = slices.Clone(s.Criteria)
	for i := range s.Criteria {
		s.Criteria[i].FilterLogic = filter.ToDisplayLogic(s.Criteria[i].FilterLogic)
	}
	if s.MeetingsCriteria != nil {
		c := *s.MeetingsCriteria
		c.FilterLogic = filter.ToDisplayLogic(c.FilterLogic)
		s.MeetingsCriteria = &c
	}
	if s.OpportunityCriteria != nil {
		c := *s.OpportunityCriteria
		c.FilterLogic = filter.ToDisplayLogic(c.FilterLogic)
		s.OpportunityCriteria = &c
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return enc.Close()
}

// decodeSettings reads YAML settings and rejects unknown keys and invalid values.
// The watermark is dropped so an import never moves it.
func decodeSettings(r io.Reader, val *validator.Validator) (domain.Settings, error) {
	var s domain.Settings
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return domain.Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	if err := val.Validate(s); err != nil {
		return domain.Settings{}, err
	}
	s.LatestDateQueried = nil
	return s, nil
}

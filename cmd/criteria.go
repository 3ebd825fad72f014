package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/renameio/v2"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/farmdata-cli/pkg/farmdata"
)

var criteriaCmd = &cobra.Command{
	Use:   "criteria",
	Short: "Work with criteria files",
}

var criteriaTemplateCmd = &cobra.Command{
	Use:   "template",
	Short: "Print the sample criteria as an editable file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")
		if out != "" && !cmd.Flags().Changed("format") {
			format = farmdata.FormatFromPath(out)
		}

		data, err := renderCriteria(farmdata.DefaultCriteria(), format)
		if err != nil {
			return err
		}

		if out == "" {
			_, err := cmd.OutOrStdout().Write(data)
			return eris.Wrap(err, "criteria template: write")
		}
		if err := renameio.WriteFile(out, data, 0o644); err != nil {
			return eris.Wrapf(err, "criteria template: write %s", out)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", out)
		return nil
	},
}

var criteriaValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a criteria file without submitting it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadCriteriaFile(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is valid.\n", args[0])
		return nil
	},
}

func renderCriteria(c farmdata.Criteria, format string) ([]byte, error) {
	switch format {
	case farmdata.FormatYAML, "yml":
		return c.YAML()
	case farmdata.FormatJSON:
		data, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return nil, eris.Wrap(err, "criteria template: encode json")
		}
		return append(data, '\n'), nil
	default:
		return nil, eris.Errorf("criteria template: unsupported format %q (want yaml or json)", format)
	}
}

func init() {
	criteriaTemplateCmd.Flags().String("format", farmdata.FormatYAML, "template format: yaml or json")
	criteriaTemplateCmd.Flags().String("out", "", "write the template to a file instead of stdout")

	criteriaCmd.AddCommand(criteriaTemplateCmd)
	criteriaCmd.AddCommand(criteriaValidateCmd)
	rootCmd.AddCommand(criteriaCmd)
}

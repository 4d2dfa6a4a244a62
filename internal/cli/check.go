package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"vin-service/internal/recognizer"
	"vin-service/internal/utils"
)

func checkCmd() *cobra.Command {
	var barcode bool

	c := &cobra.Command{
		Use:   "check [text...]",
		Short: "Extract and validate a VIN from text (no camera, no backend)",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) > 0 {
				return checkLine(out, strings.Join(args, " "), barcode)
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if err := checkLine(out, line, barcode); err != nil {
					return err
				}
			}
			return scanner.Err()
		},
	}

	c.Flags().BoolVar(&barcode, "barcode", false, "Treat input as a Code 39 barcode payload")
	return c
}

func checkLine(out io.Writer, line string, barcode bool) error {
	if barcode {
		line = recognizer.CleanCode39(line)
	}

	candidate, ok := utils.ExtractBestVIN(line)
	if !ok {
		_, err := fmt.Fprintln(out, "no candidate")
		return err
	}

	status := "verified"
	if !candidate.Verified {
		expected := utils.VINCheckDigit(candidate.VIN.String())
		status = fmt.Sprintf("unverified (check digit %c, expected %c)", candidate.VIN[8], expected)
	}
	_, err := fmt.Fprintf(out, "%s\t%s\toffset=%d\n", candidate.VIN, status, candidate.Offset)
	return err
}

package cli

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vin-service/internal/config"
	"vin-service/internal/domain/vin"
	"vin-service/internal/httpclient"
	"vin-service/internal/persistence"
	"vin-service/internal/utils"
)

// importRow is one line of a VIN log export:
// vin,material_kind,captured_at,lat,lng,photo
type importRow struct {
	Line       int
	VIN        vin.VIN
	Material   string
	CapturedAt time.Time
	Geo        *vin.Geolocation
	Photo      string
}

type importSummary struct {
	Created    int
	Duplicates int
	Failed     int
	Photos     int
}

func importCmd() *cobra.Command {
	var (
		token string
		yes   bool
	)

	c := &cobra.Command{
		Use:   "import <path-to-csv>",
		Short: "Import a VIN log CSV into the VIN service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadScanner()
			if err != nil {
				return err
			}
			if token != "" {
				cfg.API.Token = token
			}

			out := cmd.OutOrStdout()
			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open file: %w", err)
			}
			defer file.Close()

			rows, rejected, err := readImportCSV(file)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Read %d valid rows, %d rejected\n", len(rows), len(rejected))
			for _, msg := range rejected {
				fmt.Fprintf(out, "  ⚠ %s\n", msg)
			}
			if len(rows) == 0 {
				return nil
			}

			if !yes {
				fmt.Fprint(out, "Submit these scans? (yes/no): ")
				answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if strings.ToLower(strings.TrimSpace(answer)) != "yes" {
					fmt.Fprintln(out, "Import cancelled.")
					return nil
				}
			}

			client := persistence.NewClient(httpclient.New(httpclient.DefaultConfig()), cfg.API.URL, cfg.API.Token)
			summary := importRows(cmd.Context(), client, rows, httpclient.New(httpclient.DefaultConfig()), out)

			fmt.Fprintf(out, "Created: %d | Duplicates: %d | Failed: %d | Photos: %d\n",
				summary.Created, summary.Duplicates, summary.Failed, summary.Photos)
			if summary.Failed > 0 {
				return fmt.Errorf("%d rows failed", summary.Failed)
			}
			return nil
		},
	}

	c.Flags().StringVar(&token, "token", "", "Bearer token (overrides SCANNER_API_TOKEN)")
	c.Flags().BoolVarP(&yes, "yes", "y", false, "Submit without confirmation")
	return c
}

func readImportCSV(r io.Reader) ([]importRow, []string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	if _, err := reader.Read(); err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}

	var (
		rows     []importRow
		rejected []string
		line     = 1
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read record: %w", err)
		}
		if len(record) == 0 || strings.TrimSpace(record[0]) == "" {
			continue
		}

		row, err := parseImportRecord(line, record)
		if err != nil {
			rejected = append(rejected, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		rows = append(rows, row)
	}
	return rows, rejected, nil
}

func parseImportRecord(line int, record []string) (importRow, error) {
	field := func(i int) string {
		if i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	parsed, err := utils.ParseVIN(field(0))
	if err != nil {
		return importRow{}, err
	}
	if !utils.ValidVINChecksum(parsed.String()) {
		return importRow{}, fmt.Errorf("vin %s fails checksum", parsed)
	}

	row := importRow{Line: line, VIN: parsed, Material: field(1), Photo: field(5)}

	if ts := field(2); ts != "" {
		capturedAt, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			capturedAt, err = time.Parse("2006-01-02", ts)
			if err != nil {
				return importRow{}, fmt.Errorf("invalid captured_at %q", ts)
			}
		}
		row.CapturedAt = capturedAt
	}

	if latStr, lngStr := field(3), field(4); latStr != "" || lngStr != "" {
		lat, errLat := strconv.ParseFloat(latStr, 64)
		lng, errLng := strconv.ParseFloat(lngStr, 64)
		if errLat != nil || errLng != nil {
			return importRow{}, fmt.Errorf("invalid coordinates %q,%q", latStr, lngStr)
		}
		row.Geo = &vin.Geolocation{Lat: lat, Lng: lng}
	}
	return row, nil
}

type importClient interface {
	Submit(ctx context.Context, result vin.ScanResult) (vin.Outcome, error)
	UploadSnapshot(ctx context.Context, v vin.VIN, filename string, data []byte) (string, error)
}

func importRows(ctx context.Context, client importClient, rows []importRow, download *http.Client, out io.Writer) importSummary {
	var summary importSummary
	for _, row := range rows {
		result := vin.ScanResult{
			VIN:         row.VIN,
			CapturedAt:  row.CapturedAt,
			Geolocation: row.Geo,
			Recognizer:  "import",
		}
		if row.Material != "" {
			material := row.Material
			result.MaterialOrKind = &material
		}

		outcome, err := client.Submit(ctx, result)
		switch outcome {
		case vin.OutcomeSaved:
			summary.Created++
			fmt.Fprintf(out, "  ✓ %s created\n", row.VIN)
		case vin.OutcomeDuplicate:
			summary.Duplicates++
			fmt.Fprintf(out, "  = %s already recorded\n", row.VIN)
			continue
		default:
			summary.Failed++
			fmt.Fprintf(out, "  ✗ %s: %v\n", row.VIN, err)
			continue
		}

		if row.Photo == "" {
			continue
		}
		data, err := loadPhoto(ctx, download, row.Photo)
		if err != nil {
			fmt.Fprintf(out, "    ⚠ failed to load photo %s: %v\n", row.Photo, err)
			continue
		}
		if _, err := client.UploadSnapshot(ctx, row.VIN, filepath.Base(row.Photo), data); err != nil {
			fmt.Fprintf(out, "    ⚠ failed to upload photo: %v\n", err)
			continue
		}
		summary.Photos++
	}
	return summary
}

func loadPhoto(ctx context.Context, client *http.Client, location string) ([]byte, error) {
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		return os.ReadFile(location)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 10<<20))
}

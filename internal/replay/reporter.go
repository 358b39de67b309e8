package replay

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Reporter writes replay reports.
type Reporter struct {
	results    *Results
	outputPath string
}

// NewReporter creates a reporter writing into outputPath.
func NewReporter(results *Results, outputPath string) *Reporter {
	return &Reporter{
		results:    results,
		outputPath: outputPath,
	}
}

// GenerateReport writes the summary, the drift log and the JSON report.
func (r *Reporter) GenerateReport() error {
	if err := os.MkdirAll(r.outputPath, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := r.generateSummary(); err != nil {
		return err
	}
	if err := r.generateDriftLog(); err != nil {
		return err
	}
	return r.generateJSONReport()
}

func (r *Reporter) generateSummary() error {
	summaryPath := filepath.Join(r.outputPath, "replay_summary.txt")
	file, err := os.Create(summaryPath)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	r.writeSummary(file)

	log.Info().Str("file", summaryPath).Msg("Summary report generated")
	return nil
}

// generateDriftLog writes one CSV row per drifted, failed or re-encoded entry.
func (r *Reporter) generateDriftLog() error {
	csvPath := filepath.Join(r.outputPath, "drift_log.csv")
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create drift log: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"ID", "Timestamp", "Stored", "Replayed", "Delta", "Changed Features", "Error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, e := range r.results.Entries {
		if !e.Drifted && e.Error == "" && len(e.ChangedFeatures) == 0 {
			continue
		}
		record := []string{
			e.ID,
			e.Timestamp.Format(time.RFC3339),
			fmt.Sprintf("%.2f", e.Stored),
			fmt.Sprintf("%.2f", e.Replayed),
			fmt.Sprintf("%.4f", e.Delta),
			strings.Join(e.ChangedFeatures, ";"),
			e.Error,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to write drift log: %w", err)
	}

	log.Info().Str("file", csvPath).Msg("Drift log generated")
	return nil
}

func (r *Reporter) generateJSONReport() error {
	jsonPath := filepath.Join(r.outputPath, "replay_results.json")

	report := struct {
		*Results
		GeneratedAt time.Time `json:"generated_at"`
	}{r.results, time.Now()}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write JSON report: %w", err)
	}

	log.Info().Str("file", jsonPath).Msg("JSON report generated")
	return nil
}

func (r *Reporter) writeSummary(w io.Writer) {
	res := r.results

	fmt.Fprintf(w, "REPLAY RESULTS SUMMARY\n")
	fmt.Fprintf(w, "======================\n\n")
	fmt.Fprintf(w, "Time Period: %s to %s\n",
		res.StartTime.Format("2006-01-02 15:04:05"),
		res.EndTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Tolerance: %.4f points\n\n", res.Tolerance)

	fmt.Fprintf(w, "Entries: %d\n", res.Total)
	fmt.Fprintf(w, "Replayed: %d\n", res.Replayed)
	fmt.Fprintf(w, "Failed: %d\n", res.Failed)
	fmt.Fprintf(w, "Drifted: %d\n", res.Drifted)
	fmt.Fprintf(w, "Encoding Changed: %d\n", res.EncodingChanged)
	fmt.Fprintf(w, "Max |Delta|: %.4f\n", res.MaxAbsDelta)
	fmt.Fprintf(w, "Mean |Delta|: %.4f\n", res.MeanAbsDelta)
}

// PrintSummary writes a short summary to w.
func (r *Reporter) PrintSummary(w io.Writer) {
	fmt.Fprintln(w, "\n=== REPLAY RESULTS ===")
	r.writeSummary(w)
	fmt.Fprintln(w, "======================")
}

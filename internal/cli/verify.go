package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/mdspull/internal/audit"
	"github.com/ppiankov/mdspull/internal/config"
)

// maxLineSize bounds one NDJSON record when reading output files back.
const maxLineSize = 16 * 1024 * 1024

var (
	verifyDay       string
	verifyProviders []string
	verifyKinds     []string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check output records against the audit log",
	Long: `Recomputes the signature of every record in the day's NDJSON output
files and checks that each one was appended to the matching audit log.`,
	RunE: verifyAction,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVar(&verifyDay, "day", "", "UTC day to verify (YYYY-MM-DD, default yesterday)")
	verifyCmd.Flags().StringSliceVar(&verifyProviders, "provider", nil, "only verify these providers")
	verifyCmd.Flags().StringSliceVar(&verifyKinds, "kind", nil, "only verify these kinds")
}

// verifyResult is the outcome of checking one output file.
type verifyResult struct {
	Records   int // lines in the output file
	Verified  int // lines whose signature is in the audit log
	Unmatched int // audit entries with no line in the output file
}

func verifyAction(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg)

	_, day, err := resolveWindow(verifyDay, 0, 0, now())
	if err != nil {
		return err
	}

	targets, err := selectTargets(cfg, verifyProviders, verifyKinds)
	if err != nil {
		return err
	}

	ok := true
	checked := 0
	for _, tgt := range targets {
		name, kind := tgt.provider.Name, tgt.kind.String()
		outputPath := outputPathFor(cfg.Output.Dir, day, name, kind)
		if _, err := os.Stat(outputPath); errors.Is(err, os.ErrNotExist) {
			continue
		}
		checked++

		auditPath := audit.PathFor(cfg.Audit.Dir, day, name, kind)
		res, err := verifyFile(outputPath, auditPath, cfg.SigningVersion(tgt.provider))
		if err != nil {
			printCheck(false, "%s/%s: %v", name, kind, err)
			ok = false
			continue
		}

		if missing := res.Records - res.Verified; missing > 0 {
			printCheck(false, "%s/%s: %s of %s records have no audit entry",
				name, kind, humanize.Comma(int64(missing)), humanize.Comma(int64(res.Records)))
			ok = false
			continue
		}
		printCheck(true, "%s/%s: %s records verified", name, kind, humanize.Comma(int64(res.Records)))
		if res.Unmatched > 0 {
			printInfo("%s/%s: %d audit entries without an output record", name, kind, res.Unmatched)
		}
	}

	if checked == 0 {
		fmt.Printf("No output files for %s.\n", day.Format(dayLayout))
		return nil
	}
	if !ok {
		return fmt.Errorf("verification failed for %s", day.Format(dayLayout))
	}
	return nil
}

// verifyFile signs every line of outputPath with version and looks it up
// in the audit log at auditPath.
func verifyFile(outputPath, auditPath, version string) (verifyResult, error) {
	signed, err := audit.Load(auditPath)
	if err != nil {
		return verifyResult{}, err
	}

	f, err := os.Open(outputPath)
	if err != nil {
		return verifyResult{}, fmt.Errorf("open output: %w", err)
	}
	defer func() { _ = f.Close() }()

	var res verifyResult
	matched := make(audit.Set)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		res.Records++
		sig := audit.Sign(version, line)
		if signed.Has(sig) {
			res.Verified++
			matched.Add(sig)
		}
	}
	if err := sc.Err(); err != nil {
		return res, fmt.Errorf("read output: %w", err)
	}

	res.Unmatched = len(signed) - len(matched)
	return res, nil
}

package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ghga-de/ghga-connector/internal/config"
	"github.com/ghga-de/ghga-connector/internal/crypt4gh"
	"github.com/ghga-de/ghga-connector/internal/downloadapi"
	"github.com/ghga-de/ghga-connector/internal/downloader"
	"github.com/ghga-de/ghga-connector/internal/ghgaerrors"
	"github.com/ghga-de/ghga-connector/internal/httpclient"
	"github.com/ghga-de/ghga-connector/internal/logging"
	"github.com/ghga-de/ghga-connector/internal/progress"
	"github.com/ghga-de/ghga-connector/internal/stager"
	"github.com/ghga-de/ghga-connector/internal/transfer"
	"github.com/ghga-de/ghga-connector/internal/wkvs"
	"github.com/ghga-de/ghga-connector/internal/workpackage"
)

func newDownloadCmd(logger *logging.Logger, configPath *string) *cobra.Command {
	var (
		outputDir    string
		myPublicKey  string
		myPrivateKey string
		passphrase   string
		overwrite    bool
	)

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download all files in a work package",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(cmd, *configPath, outputDir, myPrivateKey, passphrase, overwrite, logger)
		},
	}

	cmd.Flags().StringVar(&outputDir, "output-dir", "", "directory to write downloaded files to")
	cmd.Flags().StringVar(&myPublicKey, "my-public-key-path", "./key.pub", "path to the public key announced when the download token was created")
	cmd.Flags().StringVar(&myPrivateKey, "my-private-key-path", "./key.sec", "path to the private key announced when the download token was created")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "passphrase for the encrypted private key, if any")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "overwrite files that already exist in the output directory")
	_ = cmd.MarkFlagRequired("output-dir")

	return cmd
}

func runDownload(cmd *cobra.Command, configPath, outputDir, privateKeyPath, passphrase string, overwrite bool, logger *logging.Logger) error {
	ctx := cmd.Context()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	info, err := os.Stat(outputDir)
	if err != nil {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return err
		}
	} else if !info.IsDir() {
		return &ghgaerrors.OutputPathIsNotDirectory{Path: outputDir}
	}

	recipient, err := loadKeyPair(privateKeyPath, passphrase)
	if err != nil {
		return err
	}

	httpClient, err := httpclient.New(cfg, logger, httpclient.WithCache(httpclient.NewResponseCache(time.Minute, 5*time.Minute)))
	if err != nil {
		return err
	}

	wkvsClient := wkvs.New(httpClient, cfg.WkvsAPIURL)
	values, err := wkvsClient.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discovering service endpoints: %w", err)
	}

	runtime := config.NewRuntimeConfig(values.WorkPackageAPIURL, values.UploadAPIURL, values.DownloadAPIURL, values.ArchivePublicKey[:])

	accessToken, err := workpackage.PromptForAccessToken(bufio.NewReader(os.Stdin), func(msg string) {
		fmt.Fprint(os.Stderr, msg)
	})
	if err != nil {
		return err
	}

	wpClient, err := workpackage.New(httpClient, runtime, recipient, accessToken.PackageID, accessToken.SealedTokenB64)
	if err != nil {
		return err
	}

	files, err := wpClient.Files(ctx)
	if err != nil {
		return err
	}

	fileIDs := make([]string, 0, len(files))
	for _, f := range files {
		fileIDs = append(fileIDs, f.ID)
	}

	downloadAPI := downloadapi.New(httpClient, runtime)
	st := stager.New(downloadAPI, logger, time.Duration(cfg.MaxWaitTime)*time.Second, fileIDs)

	outcomes, err := st.Run(ctx, wpClient.WorkOrderToken, promptContinuePastMissing)
	if err != nil {
		return err
	}

	dl := downloader.New(httpClient, logger, cfg.MaxConcurrentDownloads)
	batch := transfer.NewBatch()
	batchBars := batchProgressFor(cmd)

	for _, outcome := range outcomes {
		size := int64(0)
		if outcome.Object != nil {
			size = outcome.Object.Size
		}
		task := transfer.NewFileTask(transfer.TaskTypeDownload, outcome.FileID, size)
		batch.Add(task)

		if outcome.Err != nil {
			task.SetState(transfer.TaskMissing)
			logger.Warnf("skipping file %s: %v", outcome.FileID, outcome.Err)
			continue
		}

		destPath := filepath.Join(outputDir, outcome.FileID)
		if !overwrite {
			if _, statErr := os.Stat(destPath); statErr == nil {
				task.SetState(transfer.TaskMissing)
				logger.Warnf("skipping file %s: %s already exists (use --overwrite to replace it)", outcome.FileID, destPath)
				continue
			}
		}

		url, err := downloadapi.ExtractDownloadURL(outcome.Object)
		if err != nil {
			task.SetError(err)
			return err
		}

		wot, err := wpClient.WorkOrderToken(ctx, outcome.FileID, false)
		if err != nil {
			task.SetError(err)
			return err
		}

		envelope, err := downloadAPI.GetFileEnvelope(ctx, outcome.FileID, wot)
		if err != nil {
			task.SetError(err)
			return err
		}

		refreshURL := func(ctx context.Context) (string, error) {
			result, err := downloadAPI.GetDrsObject(ctx, outcome.FileID, downloadapi.TokenFn(func(ctx context.Context, fileID string, _ bool) (string, error) {
				return wpClient.WorkOrderToken(ctx, fileID, true)
			}))
			if err != nil {
				return "", err
			}
			return downloadapi.ExtractDownloadURL(result.Object)
		}

		task.SetState(transfer.TaskActive)
		reporter := batchBars.NewFileReporter(outcome.FileID, outcome.Object.Size)
		if _, err := dl.Download(ctx, url, destPath, envelope, outcome.Object.Size, cfg.PartSizeBytes(), recipient, refreshURL, reporter); err != nil {
			reporter.Error(err)
			task.SetError(err)
			return err
		}
		reporter.Finish()
		task.SetState(transfer.TaskCompleted)
		logger.Infof("downloaded %s", destPath)
	}

	batchBars.Wait()

	completed, failed, missing := batch.Counts()
	logger.Infof("batch %s finished: %d completed, %d failed, %d missing", batch.ID, completed, failed, missing)

	return nil
}

// promptContinuePastMissing tells the caller about files the download
// service has no record of and asks whether to proceed with the rest of
// the batch, aborting the whole run when the answer isn't yes.
func promptContinuePastMissing(missing []string) bool {
	fmt.Fprintf(os.Stderr, "No download exists for the following file IDs: %s\n", strings.Join(missing, ", "))
	fmt.Fprint(os.Stderr, "Some of the provided file IDs cannot be downloaded.\nDo you want to proceed?\n[Yes][No]\n")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "yes", "y":
		return true
	default:
		return false
	}
}

func loadKeyPair(privateKeyPath, passphrase string) (*crypt4gh.KeyPair, error) {
	if _, err := os.Stat(privateKeyPath); err != nil {
		return nil, &ghgaerrors.PrivateKeyFileDoesNotExistError{Path: privateKeyPath}
	}

	prompt := crypt4gh.PromptPassphrase
	if passphrase != "" {
		prompt = func(string) (string, error) { return passphrase, nil }
	}

	priv, err := crypt4gh.LoadPrivateKey(privateKeyPath, prompt)
	if err != nil {
		return nil, err
	}

	pub, err := crypt4gh.DerivePublicKey(priv)
	if err != nil {
		return nil, err
	}

	return &crypt4gh.KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

func progressReporterFor(cmd *cobra.Command) progress.Reporter {
	if fileInfo, _ := os.Stdout.Stat(); fileInfo != nil && (fileInfo.Mode()&os.ModeCharDevice) != 0 {
		return progress.NewCLIProgress()
	}
	return progress.NewNoOpProgress()
}

// batchProgress is satisfied by progress.BatchProgress; abstracted so a
// non-TTY run can substitute a no-op implementation.
type batchProgress interface {
	NewFileReporter(description string, total int64) progress.Reporter
	Wait()
}

type noOpBatchProgress struct{}

func (noOpBatchProgress) NewFileReporter(description string, total int64) progress.Reporter {
	return progress.NewNoOpProgress()
}

func (noOpBatchProgress) Wait() {}

func batchProgressFor(cmd *cobra.Command) batchProgress {
	if fileInfo, _ := os.Stdout.Stat(); fileInfo != nil && (fileInfo.Mode()&os.ModeCharDevice) != 0 {
		return progress.NewBatchProgress()
	}
	return noOpBatchProgress{}
}

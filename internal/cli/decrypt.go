package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ghga-de/ghga-connector/internal/crypt4gh"
	"github.com/ghga-de/ghga-connector/internal/ghgaerrors"
	"github.com/ghga-de/ghga-connector/internal/logging"
)

// c4ghSuffix is the file extension that marks a Crypt4GH-encrypted file
// in decrypt's input directory.
const c4ghSuffix = ".c4gh"

func newDecryptCmd(logger *logging.Logger) *cobra.Command {
	var (
		inputDir   string
		outputDir  string
		privateKey string
		passphrase string
	)

	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt every Crypt4GH-encrypted file in a directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecryptDir(inputDir, outputDir, privateKey, passphrase, logger)
		},
	}

	cmd.Flags().StringVar(&inputDir, "input-dir", "", "directory containing files to decrypt with a common key")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "directory to write decrypted files to (defaults to input-dir)")
	cmd.Flags().StringVar(&privateKey, "my-private-key-path", "./key.sec", "path to the Crypt4GH private key file")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "passphrase for the encrypted private key, if any")
	_ = cmd.MarkFlagRequired("input-dir")

	return cmd
}

func runDecryptDir(inputDir, outputDir, privateKeyPath, passphrase string, logger *logging.Logger) error {
	info, err := os.Stat(inputDir)
	if err != nil || !info.IsDir() {
		return &ghgaerrors.DirectoryDoesNotExistError{Path: inputDir}
	}

	if outputDir == "" {
		outputDir = inputDir
	}

	if outInfo, err := os.Stat(outputDir); err == nil {
		if !outInfo.IsDir() {
			return &ghgaerrors.OutputPathIsNotDirectory{Path: outputDir}
		}
	} else {
		logger.Infof("creating output directory %q", outputDir)
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return err
		}
	}

	recipient, err := loadKeyPair(privateKeyPath, passphrase)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return err
	}

	var (
		processed int
		skipped   []string
		failed    = map[string]string{}
	)

	for _, entry := range entries {
		inputPath := filepath.Join(inputDir, entry.Name())

		if entry.IsDir() || filepath.Ext(entry.Name()) != c4ghSuffix {
			skipped = append(skipped, inputPath)
			continue
		}

		processed++
		outputPath := filepath.Join(outputDir, strings.TrimSuffix(entry.Name(), c4ghSuffix))

		if _, err := os.Stat(outputPath); err == nil {
			failed[inputPath] = fmt.Sprintf("file already exists at %q, will not overwrite", outputPath)
			continue
		}

		logger.Infof("decrypting %s", inputPath)
		if err := decryptOneFile(inputPath, outputPath, recipient, logger); err != nil {
			failed[inputPath] = err.Error()
			continue
		}
	}

	if processed == 0 {
		logger.Infof("no files were processed because %q contains no %s files", inputDir, c4ghSuffix)
	}

	if len(skipped) > 0 {
		logger.Infof("skipped %d non-%s file(s):", len(skipped), c4ghSuffix)
		for _, path := range skipped {
			logger.Infof("- %s", path)
		}
	}

	if len(failed) > 0 {
		logger.Warnf("%d file(s) could not be decrypted:", len(failed))
		for path, cause := range failed {
			logger.Warnf("- %s: %s", path, cause)
		}
	}

	return nil
}

// runDecrypt decrypts a single Crypt4GH-encrypted file, loading the
// recipient's key pair itself.
func runDecrypt(inputPath, outputPath, privateKeyPath, passphrase string, logger *logging.Logger) error {
	recipient, err := loadKeyPair(privateKeyPath, passphrase)
	if err != nil {
		return err
	}
	return decryptOneFile(inputPath, outputPath, recipient, logger)
}

// decryptOneFile decrypts inputPath to outputPath using an
// already-loaded recipient key pair.
func decryptOneFile(inputPath, outputPath string, recipient *crypt4gh.KeyPair, logger *logging.Logger) error {
	in, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("opening %q: %w", inputPath, err)
	}
	defer in.Close()

	out, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %q: %w", outputPath, err)
	}
	defer out.Close()

	env, err := crypt4gh.ParseEnvelopeHeader(in, recipient)
	if err != nil {
		return fmt.Errorf("parsing envelope header: %w", err)
	}

	decryptor, err := crypt4gh.NewDecryptor(in, env)
	if err != nil {
		return err
	}

	var total int64
	for {
		plain, err := decryptor.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		n, err := out.Write(plain)
		if err != nil {
			return err
		}
		total += int64(n)
	}

	logger.Infof("decrypted %d bytes to %s", total, outputPath)
	return nil
}

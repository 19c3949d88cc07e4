package executor

import (
	"fmt"
	"io"
	"os"

	"github.com/brightwavehq/streamfetch/internal/classify"
)

// assembleOutput concatenates scratch/NNN.part files (index order) into
// outputPath: per-segment files, concatenated once every segment is
// complete.
func assembleOutput(scratchDir, outputPath string, segmentCount int) error {
	tmp := outputPath + ".assembling"
	out, err := os.Create(tmp)
	if err != nil {
		return classify.Filesystem(classify.VariantInsufficientSpace, "creating assembly output", err)
	}

	for i := 0; i < segmentCount; i++ {
		if err := appendPart(out, scratchDir, i); err != nil {
			out.Close()
			os.Remove(tmp)
			return err
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return classify.Filesystem(classify.VariantGeneric, "closing assembled output", err)
	}
	if err := os.Rename(tmp, outputPath); err != nil {
		return classify.Filesystem(classify.VariantGeneric, "renaming assembled output into place", err)
	}
	return nil
}

func appendPart(out *os.File, scratchDir string, index int) error {
	part, err := os.Open(partPath(scratchDir, index))
	if err != nil {
		return classify.Filesystem(classify.VariantNotFound, fmt.Sprintf("segment %d missing from scratch during assembly", index), err)
	}
	defer part.Close()
	if _, err := io.Copy(out, part); err != nil {
		return classify.Filesystem(classify.VariantGeneric, fmt.Sprintf("copying segment %d into assembled output", index), err)
	}
	return nil
}

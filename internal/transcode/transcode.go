package transcode

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Transcoder re-encodes OpenCV output into H.264 so browsers and phones can
// play it
type Transcoder struct {
	Binary string
}

func New() *Transcoder {
	return &Transcoder{Binary: "ffmpeg"}
}

// ToH264 re-encodes inPath into outPath, replacing outPath only on success
func (t *Transcoder) ToH264(ctx context.Context, inPath, outPath string) error {
	if _, err := os.Stat(inPath); os.IsNotExist(err) {
		return fmt.Errorf("video file does not exist at path: '%s'", inPath)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory for '%s': %v", outPath, err)
	}

	tmp := outPath + ".tmp" + filepath.Ext(outPath)
	cmd := exec.CommandContext(ctx,
		t.Binary,
		"-y",
		"-loglevel", "error",
		"-i", inPath,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		tmp,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("ffmpeg failed: %v\nOutput: %s", err, string(output))
	}

	return os.Rename(tmp, outPath)
}

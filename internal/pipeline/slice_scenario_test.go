//go:build unix

package pipeline

import (
	"context"
	"os"
	"strings"
	"testing"

	"giftforge/internal/slicer"
	"giftforge/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePrusa writes G-code for a single body and nothing for a mesh holding two
// disconnected solids, as the real slicer does for such parts.
const fakePrusa = `out=""
in=""
while [ $# -gt 0 ]; do
  case "$1" in
    --output) out="$2"; shift 2 ;;
    --center|--load) shift 2 ;;
    --*) shift ;;
    *) in="$1"; shift ;;
  esac
done
if [ "$(grep -c '^solid' "$in")" -gt 1 ]; then
  echo "Slicing result exported"
  exit 0
fi
printf '; filament used [cm3] = 10.00\n; estimated printing time (normal mode) = 1h 2m 3s\n' > "$out"
`

func newSliceService(t *testing.T) (*Service, string) {
	t.Helper()
	script := testutil.WriteExecutable(t, fakePrusa, t.TempDir(), "prusa-slicer")

	workDir := t.TempDir()
	est, err := slicer.NewEstimator(slicer.ExecRunner{}, slicer.Config{
		Path:    script,
		Profile: "config.ini",
		WorkDir: workDir,
		Cost:    slicer.DefaultCostModel(),
	})
	require.NoError(t, err)

	svc, err := NewService(Deps{Engine: &fakeEngine{}, Estimator: est, Stages: testStages(t)})
	require.NoError(t, err)
	return svc, workDir
}

func TestScenario_SliceQuote(t *testing.T) {
	t.Parallel()
	svc, workDir := newSliceService(t)

	resp, err := svc.Slice(context.Background(), strings.NewReader("solid gift\nendsolid gift\n"), slicer.SliceConfig{})
	require.NoError(t, err)
	assert.Equal(t, &SliceResponse{
		Status:    SliceSuccess,
		Volume:    10,
		Weight:    12.4,
		PrintTime: "1h 2m 3s",
		Price:     2.99,
	}, resp)

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestScenario_DisconnectedGeometry(t *testing.T) {
	t.Parallel()
	svc, workDir := newSliceService(t)

	mesh := "solid part1\nendsolid part1\nsolid part2\nendsolid part2\n"
	resp, err := svc.Slice(context.Background(), strings.NewReader(mesh), slicer.SliceConfig{})
	require.NoError(t, err)
	assert.Equal(t, SliceError, resp.Status)
	assert.Contains(t, resp.Message, "disconnected parts")
	assert.Empty(t, resp.GcodeURL)

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no temporary files left behind")
}

package sgrna

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
	"v.io/x/lib/gosh"
	"v.io/x/lib/lookpath"
)

const testRefLen = 29903

func writeHeaderOnlyBAM(t *testing.T, path, refName string, refLen int) {
	ref, err := sam.NewReference(refName, "", "", refLen, nil, nil)
	assert.NoError(t, err)
	header, err := sam.NewHeader(nil, []*sam.Reference{ref})
	assert.NoError(t, err)
	f, err := os.Create(path)
	assert.NoError(t, err)
	w, err := bam.NewWriter(f, header, 1)
	assert.NoError(t, err)
	assert.NoError(t, w.Close())
	assert.NoError(t, f.Close())
}

func TestCheckBAM(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	good := filepath.Join(tempDir, "good.bam")
	writeHeaderOnlyBAM(t, good, "MN908947.3", testRefLen)
	assert.NoError(t, checkBAM(good, "MN908947.3", 29530))

	err := checkBAM(good, "NC_045512.2", 29530)
	assert.NotNil(t, err)
	assert.HasSubstr(t, err.Error(), `reference "NC_045512.2" not in BAM header`)

	err = checkBAM(good, "MN908947.3", testRefLen+1)
	assert.NotNil(t, err)
	assert.HasSubstr(t, err.Error(), "lies beyond reference")

	text := filepath.Join(tempDir, "text.bam")
	assert.NoError(t, ioutil.WriteFile(text, []byte("not an alignment"), 0666))
	err = checkBAM(text, "MN908947.3", 29530)
	assert.NotNil(t, err)
	assert.HasSubstr(t, err.Error(), "not a readable BAM")

	err = checkBAM(filepath.Join(tempDir, "missing.bam"), "MN908947.3", 29530)
	assert.NotNil(t, err)
}

// TestCheckBAMSamtools cross-checks the header probe against a BAM
// produced by real samtools, when one is installed.
func TestCheckBAMSamtools(t *testing.T) {
	sh := gosh.NewShell(t)
	defer sh.Cleanup()
	if _, err := lookpath.Look(sh.Vars, "samtools"); err != nil {
		t.Skipf("samtools not found on the machine. Skipping the test")
		return
	}
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	samPath := filepath.Join(tempDir, "header.sam")
	samText := "@HD\tVN:1.6\tSO:coordinate\n@SQ\tSN:MN908947.3\tLN:29903\n"
	require.NoError(t, ioutil.WriteFile(samPath, []byte(samText), 0666))

	bamPath := filepath.Join(tempDir, "header.bam")
	cmd := sh.Cmd("samtools", "view", "-b", "-o", bamPath, samPath)
	cmd.Run()
	require.NoError(t, cmd.Err)

	require.NoError(t, checkBAM(bamPath, "MN908947.3", 29530))
	require.Error(t, checkBAM(bamPath, "NC_045512.2", 29530))
}

func TestPreflightCounts(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	good := filepath.Join(tempDir, "good.bam")
	writeHeaderOnlyBAM(t, good, "MN908947.3", testRefLen)
	short := filepath.Join(tempDir, "short.bam")
	writeHeaderOnlyBAM(t, short, "MN908947.3", 100)
	text := filepath.Join(tempDir, "text.bam")
	assert.NoError(t, ioutil.WriteFile(text, []byte("garbage"), 0666))

	expect.EQ(t, preflight([]string{good, short, text}, "MN908947.3", 29530), 2)
	expect.EQ(t, preflight([]string{good}, "MN908947.3", 29530), 0)
}

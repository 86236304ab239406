package depth_test

import (
	"context"
	"io/ioutil"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/grailbio/sgrna/depth"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func writeAggregate(t *testing.T, dir string, lines ...string) string {
	path := filepath.Join(dir, "agg.tsv")
	assert.NoError(t, ioutil.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0666))
	return path
}

// parseProportions returns sample -> position -> proportion from an
// output file, skipping the header.
func parseProportions(t *testing.T, path string) map[string]map[int]float64 {
	data, err := ioutil.ReadFile(path)
	assert.NoError(t, err)
	props := make(map[string]map[int]float64)
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		assert.EQ(t, len(fields), 4, "line=%q", line)
		pos, err := strconv.Atoi(fields[1])
		assert.NoError(t, err)
		prop, err := strconv.ParseFloat(fields[2], 64)
		assert.NoError(t, err)
		if props[fields[0]] == nil {
			props[fields[0]] = make(map[int]float64)
		}
		props[fields[0]][pos] = prop
	}
	return props
}

func TestProportionsExact(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	agg := writeAggregate(t, tempDir,
		"#sample_name\tposition\tcount",
		"s1\t55\t25",
		"s1\t29530\t75")
	out := filepath.Join(tempDir, "prop.tsv")
	assert.NoError(t, depth.WriteProportions(context.Background(), agg, out))

	data, err := ioutil.ReadFile(out)
	assert.NoError(t, err)
	want := "#sample_name\tposition\tproportion\tcount\n" +
		"s1\t55\t0.25\t25\n" +
		"s1\t29530\t0.75\t75\n"
	expect.EQ(t, string(data), want)
}

func TestProportionsNormalize(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	agg := writeAggregate(t, tempDir,
		"#sample_name\tposition\tcount",
		"s1\t55\t30",
		"s1\t26469\t70")
	out := filepath.Join(tempDir, "prop.tsv")
	assert.NoError(t, depth.WriteProportions(context.Background(), agg, out))

	props := parseProportions(t, out)["s1"]
	expect.True(t, math.Abs(props[55]-0.3) < 1e-12)
	expect.True(t, math.Abs(props[26469]-0.7) < 1e-12)
	sum := 0.0
	for _, p := range props {
		sum += p
	}
	expect.True(t, math.Abs(sum-1.0) <= 1e-9)
}

func TestProportionsZeroTotal(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	agg := writeAggregate(t, tempDir,
		"#sample_name\tposition\tcount",
		"empty\t55\t0",
		"empty\t29530\t0",
		"#sample_name\tposition\tcount",
		"ok\t55\t10")
	out := filepath.Join(tempDir, "prop.tsv")
	err := depth.WriteProportions(context.Background(), agg, out)
	assert.NotNil(t, err)
	assert.HasSubstr(t, err.Error(), "sample empty")
	assert.HasSubstr(t, err.Error(), "zero")

	// The zero sample is omitted; the healthy one is still written.
	data, rerr := ioutil.ReadFile(out)
	assert.NoError(t, rerr)
	want := "#sample_name\tposition\tproportion\tcount\n" +
		"ok\t55\t1\t10\n"
	expect.EQ(t, string(data), want)
}

func TestProportionsLastWriteWins(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	// Two depth files mapped to the same sample stem; the later
	// occurrence of position 55 replaces the earlier one.
	agg := writeAggregate(t, tempDir,
		"#sample_name\tposition\tcount",
		"s1\t55\t10",
		"s1\t26469\t60",
		"#sample_name\tposition\tcount",
		"s1\t55\t40")
	out := filepath.Join(tempDir, "prop.tsv")
	assert.NoError(t, depth.WriteProportions(context.Background(), agg, out))

	props := parseProportions(t, out)["s1"]
	expect.True(t, math.Abs(props[55]-0.4) < 1e-12)
	expect.True(t, math.Abs(props[26469]-0.6) < 1e-12)
}

func TestProportionsSortedBySampleThenPosition(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	agg := writeAggregate(t, tempDir,
		"#sample_name\tposition\tcount",
		"zeta\t29530\t1",
		"zeta\t55\t1",
		"#sample_name\tposition\tcount",
		"alpha\t55\t2")
	out := filepath.Join(tempDir, "prop.tsv")
	assert.NoError(t, depth.WriteProportions(context.Background(), agg, out))

	data, err := ioutil.ReadFile(out)
	assert.NoError(t, err)
	want := "#sample_name\tposition\tproportion\tcount\n" +
		"alpha\t55\t1\t2\n" +
		"zeta\t55\t0.5\t1\n" +
		"zeta\t29530\t0.5\t1\n"
	expect.EQ(t, string(data), want)
}

func TestProportionsMalformedAggregate(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	agg := writeAggregate(t, tempDir,
		"#sample_name\tposition\tcount",
		"s1\t55")
	out := filepath.Join(tempDir, "prop.tsv")
	err := depth.WriteProportions(context.Background(), agg, out)
	assert.NotNil(t, err)
	assert.HasSubstr(t, err.Error(), "agg.tsv:2")
	assert.HasSubstr(t, err.Error(), "want 3 aggregate fields")
}

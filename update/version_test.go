package update

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersionStripsVPrefix(t *testing.T) {
	v := ParseVersion("v1.2.3")
	assert.Equal(t, int64(1), v.major)
	assert.Equal(t, int64(2), v.minor)
	assert.Equal(t, int64(3), v.patch)
	assert.False(t, v.IsPrerelease())
}

func TestParseVersionPadsAndTruncates(t *testing.T) {
	v := ParseVersion("2")
	assert.Equal(t, int64(2), v.major)
	assert.Equal(t, int64(0), v.minor)
	assert.Equal(t, int64(0), v.patch)

	v2 := ParseVersion("1.2.3.4.5")
	assert.Equal(t, int64(1), v2.major)
	assert.Equal(t, int64(2), v2.minor)
	assert.Equal(t, int64(3), v2.patch)
}

func TestParseVersionNonNumericComponent(t *testing.T) {
	v := ParseVersion("1.2.3beta")
	require.True(t, v.valid)
	assert.Equal(t, int64(1), v.major)
}

func TestReleaseOutranksPrereleaseSameTuple(t *testing.T) {
	release := ParseVersion("1.0.0")
	pre := ParseVersion("1.0.0-beta")
	assert.True(t, release.GreaterThan(pre))
}

func TestPrereleaseOrderingAlphaBeforeNumeric(t *testing.T) {
	alpha := ParseVersion("1.0.0-alpha")
	numeric := ParseVersion("1.0.0-10")
	assert.True(t, numeric.GreaterThan(alpha))
}

func TestPrereleaseOrderingCaseInsensitive(t *testing.T) {
	a := ParseVersion("1.0.0-BETA")
	b := ParseVersion("1.0.0-beta")
	assert.Equal(t, 0, a.Compare(b))
}

func TestUnparseableVersionIsSentinelLow(t *testing.T) {
	bad := ParseVersion("")
	good := ParseVersion("0.0.1")
	assert.True(t, good.GreaterThan(bad))
}

func TestNightlyTagParsesWithoutPanicking(t *testing.T) {
	v := ParseVersion("nightly-20251122")
	assert.NotPanics(t, func() { _ = v.Compare(ParseVersion("1.0.0")) })
	assert.True(t, v.IsPrerelease())
	assert.False(t, v.HasNumericCore())
}

func TestChannelNormalizeFallsBackToStable(t *testing.T) {
	assert.Equal(t, ChannelStable, Channel("nightly-weird").Normalize())
	assert.Equal(t, ChannelBeta, ChannelBeta.Normalize())
}

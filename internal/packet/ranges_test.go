package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccelRange(t *testing.T) {
	assert.Equal(t, 2, Accel2G.G())
	assert.Equal(t, 4, Accel4G.G())
	assert.Equal(t, 8, Accel8G.G())
	assert.Equal(t, 16, Accel16G.G())
	assert.Equal(t, "16g", Accel16G.String())
	assert.False(t, AccelRange(4).Valid())

	for _, in := range []string{"8g", "8G", " 8 ", "8"} {
		r, err := ParseAccelRange(in)
		require.NoError(t, err, in)
		assert.Equal(t, Accel8G, r, in)
	}

	_, err := ParseAccelRange("3g")
	assert.Error(t, err)

	_, err = AccelRange(9).MarshalText()
	assert.Error(t, err)
}

func TestGyroRange(t *testing.T) {
	assert.Equal(t, 250, Gyro250DPS.DPS())
	assert.Equal(t, 2000, Gyro2000DPS.DPS())
	assert.Equal(t, "1000dps", Gyro1000DPS.String())

	var r GyroRange
	require.NoError(t, r.UnmarshalText([]byte("500dps")))
	assert.Equal(t, Gyro500DPS, r)

	require.Error(t, r.UnmarshalText([]byte("42")))
	assert.Equal(t, Gyro500DPS, r, "failed unmarshal MUST leave the value untouched")
}

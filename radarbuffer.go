package fusion

// RadarBufferKeyString is the stable key-string for a buffer carrying a
// complex-valued radar cube.
const RadarBufferKeyString = "radar_cube"

// RadarCube is a complex64 data cube shaped
// [numChirps][numSamples][numAntennas], the canonical layout a radar
// front-end hands to the DSP stage for range-doppler-angle processing.
type RadarCube struct {
	NumChirps    int
	NumSamples   int
	NumAntennas  int
	FrameID      uint64
	Data         []complex64
}

// At returns the sample for (chirp, sample, antenna).
func (c *RadarCube) At(chirp, sample, antenna int) complex64 {
	idx := (chirp*c.NumSamples+sample)*c.NumAntennas + antenna
	return c.Data[idx]
}

// NewRadarBuffer wraps a RadarCube in a Buffer tagged with
// RadarBufferKeyString.
func NewRadarBuffer(cube *RadarCube, size int64, release ReleaseFunc[*RadarCube]) *Buffer[*RadarCube] {
	return NewBuffer(RadarBufferKeyString, cube, size, release)
}

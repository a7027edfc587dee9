package delivery

// Tier is a discrete target output resolution.
type Tier string

const (
	Tier360  Tier = "360p"
	Tier720  Tier = "720p"
	Tier1080 Tier = "1080p"
)

// Height returns the pixel height the tier scales to.
func (t Tier) Height() int {
	switch t {
	case Tier1080:
		return 1080
	case Tier720:
		return 720
	default:
		return 360
	}
}

// SelectTier maps measured bandwidth and the device performance score to a
// resolution tier through a weighted score on a 0-100 scale. Both inputs
// contribute half; 20 Mbps and a device score of 100 each saturate their
// half.
func SelectTier(bandwidthMbps float64, deviceScore int) Tier {
	score := (0.5*(bandwidthMbps/20) + 0.5*(float64(deviceScore)/100)) * 100
	switch {
	case score >= 70:
		return Tier1080
	case score >= 40:
		return Tier720
	default:
		return Tier360
	}
}

// TierForProfile is the convenience path used by the orchestrator: measure
// once, combine with the process-lifetime device score.
func TierForProfile(profile *NetworkProfile) Tier {
	if profile == nil {
		return Tier360
	}
	return SelectTier(profile.BandwidthMbps, DeviceScore())
}

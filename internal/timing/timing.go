// Package timing converts measured media durations into scene frame counts
// for the renderer composition.
package timing

import "math"

const (
	FPS          = 30
	OutroFrames  = 90
	DefaultVideo = 5.0 // seconds assumed when the source video could not be probed

	scene1Default = 150
	scene1Min     = 120
	scene1Padding = 30

	scene3Default = 180
	scene3Min     = 150
	scene3Padding = 45
)

// Scenes holds the frame count of each computed scene. The outro is fixed
// and appended by the renderer.
type Scenes struct {
	Scene1Frames int `json:"scene1Frames"`
	Scene2Frames int `json:"scene2Frames"`
	Scene3Frames int `json:"scene3Frames"`
}

// TotalFrames includes the outro.
func (s Scenes) TotalFrames() int {
	return s.Scene1Frames + s.Scene2Frames + s.Scene3Frames + OutroFrames
}

// Compute derives scene lengths. A nil duration means "unknown".
func Compute(videoSec, openingSec, blessingSec *float64) Scenes {
	video := DefaultVideo
	if videoSec != nil {
		video = *videoSec
	}

	return Scenes{
		Scene1Frames: padded(openingSec, scene1Default, scene1Min, scene1Padding),
		Scene2Frames: frames(video),
		Scene3Frames: padded(blessingSec, scene3Default, scene3Min, scene3Padding),
	}
}

func padded(sec *float64, def, min, pad int) int {
	if sec == nil {
		return def
	}
	n := frames(*sec) + pad
	if n < min {
		return min
	}
	return n
}

func frames(sec float64) int {
	return int(math.Round(sec * FPS))
}

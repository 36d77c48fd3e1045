package persist

import "math/rand/v2"

var (
	slugAdjectives = []string{
		"amber", "bold", "brave", "bright", "calm", "clever", "cosmic", "crisp", "daring", "eager",
		"fancy", "gentle", "golden", "happy", "humble", "jolly", "keen", "lively", "lucky", "mellow",
		"misty", "noble", "quiet", "rapid", "rustic", "shiny", "silent", "silver", "swift", "tidy",
		"vivid", "warm", "wild", "witty", "young", "zesty",
	}
	slugNouns = []string{
		"badger", "breeze", "canyon", "cedar", "comet", "coral", "delta", "ember", "falcon", "fern",
		"forest", "galaxy", "harbor", "island", "lagoon", "lantern", "meadow", "meteor", "orchid", "otter",
		"panda", "pebble", "pine", "planet", "raven", "river", "robin", "sparrow", "summit", "thunder",
		"tiger", "valley", "willow", "wolf",
	}
)

// Slug returns a random two-word kebab-case project name, e.g. "brave-otter".
func Slug() string {
	return slugAdjectives[rand.IntN(len(slugAdjectives))] + "-" + slugNouns[rand.IntN(len(slugNouns))]
}

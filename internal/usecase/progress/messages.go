package progress

import (
	"fmt"
	"math/rand/v2"
)

// flavorMessages are shown while posts are uploading.
var flavorMessages = []string{
	"Packing up your memories...",
	"Teaching your photos to fly...",
	"Sprinkling some sky dust...",
	"Convincing pixels to move house...",
	"Folding captions neatly...",
	"Untangling hashtags...",
	"Dusting off old stories...",
	"Carrying posts across the bridge...",
	"Checking every frame twice...",
	"Warming up the butterflies...",
}

const (
	msgStarting        = "Preparing migration..."
	msgFailure         = "Migration failed. Check the logs for details."
	msgSkippingPost    = "Skipping incompatible post..."
	msgUploadingFormat = "Uploading post %d..."
)

func pickFlavor(r *rand.Rand) string {
	return flavorMessages[r.IntN(len(flavorMessages))]
}

func uploadingMessage(n int) string {
	return fmt.Sprintf(msgUploadingFormat, n)
}

// summaryMessage is the success text, e.g. "Migration complete! Created 1 post with 3 media files."
func summaryMessage(posts, media int) string {
	return fmt.Sprintf("Migration complete! Created %d %s with %d media %s.",
		posts, plural(posts, "post", "posts"),
		media, plural(media, "file", "files"))
}

func exitFailureMessage(code int) string {
	return fmt.Sprintf("Migration failed with exit code %d.", code)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

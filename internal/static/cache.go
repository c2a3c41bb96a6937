package static

import (
	"strconv"
	"time"
)

func cacheControl(maxAge time.Duration) string {
	return "max-age=" + strconv.FormatInt(int64(maxAge/time.Second), 10)
}

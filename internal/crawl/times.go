package crawl

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"
)

// GenerateRandomTimesBetween returns amount timestamps sampled uniformly at
// second granularity within [start, end], sorted ascending. Sampling is with
// replacement, so amount may exceed the number of distinct seconds in the
// range. When start equals end the result is amount copies of start.
func GenerateRandomTimesBetween(rng *rand.Rand, start, end time.Time, amount int) []time.Time {
	if amount <= 0 {
		return nil
	}
	seconds := int64(end.Sub(start) / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	times := make([]time.Time, amount)
	for i := range times {
		times[i] = start.Add(time.Duration(rng.Int63n(seconds+1)) * time.Second)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	return times
}

// TimeGraph renders the schedule as a per-bucket histogram, one row per
// bucketMinutes slice of the window. Useful for eyeballing how a crawl run
// spreads over its window in the logs.
func TimeGraph(times []time.Time, bucketMinutes int) string {
	if len(times) == 0 || bucketMinutes <= 0 {
		return ""
	}
	bucket := time.Duration(bucketMinutes) * time.Minute
	first := times[0].Truncate(bucket)
	last := times[len(times)-1]

	var b strings.Builder
	for t := first; !t.After(last); t = t.Add(bucket) {
		count := 0
		for _, ts := range times {
			if !ts.Before(t) && ts.Before(t.Add(bucket)) {
				count++
			}
		}
		fmt.Fprintf(&b, "%s %s (%d)\n", t.Format("15:04"), strings.Repeat("#", count), count)
	}
	return strings.TrimRight(b.String(), "\n")
}

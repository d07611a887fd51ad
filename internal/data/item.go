package data

import (
	"iter"
	"sort"
	"time"
)

// Item is one unit emitted by the acquisition loop. It is either an
// *UnderlyingBar or an *OptionRecord.
type Item interface {
	ItemTime() time.Time
	isItem()
}

func (b *UnderlyingBar) ItemTime() time.Time { return b.Timestamp }
func (*UnderlyingBar) isItem() {}

func (r *OptionRecord) ItemTime() time.Time { return r.Timestamp }
func (*OptionRecord) isItem() {}

// SortedBars is a sequence of bars ordered oldest to newest.
// Only NewSortedBars can build one, so holders can replay it in order.
type SortedBars struct {
	bars []UnderlyingBar
}

// NewSortedBars copies bars, keeps the last bar seen for any duplicate
// timestamp, and orders the result chronologically.
func NewSortedBars(bars []UnderlyingBar) SortedBars {
	byTime := make(map[int64]int, len(bars))
	out := make([]UnderlyingBar, 0, len(bars))
	for _, b := range bars {
		key := b.Timestamp.UnixNano()
		if idx, ok := byTime[key]; ok {
			out[idx] = b
			continue
		}
		byTime[key] = len(out)
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return SortedBars{bars: out}
}

// Len returns the number of bars.
func (s SortedBars) Len() int {
	return len(s.bars)
}

// At returns the i-th oldest bar.
func (s SortedBars) At(i int) UnderlyingBar {
	return s.bars[i]
}

// All yields bars in chronological order.
func (s SortedBars) All() iter.Seq2[int, UnderlyingBar] {
	return func(yield func(int, UnderlyingBar) bool) {
		for i, b := range s.bars {
			if !yield(i, b) {
				return
			}
		}
	}
}

// First and Last return the window edges. Both are zero for an empty sequence.
func (s SortedBars) First() time.Time {
	if len(s.bars) == 0 {
		return time.Time{}
	}
	return s.bars[0].Timestamp
}

func (s SortedBars) Last() time.Time {
	if len(s.bars) == 0 {
		return time.Time{}
	}
	return s.bars[len(s.bars)-1].Timestamp
}

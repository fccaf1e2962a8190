// Package diarize normalises speaker labelling on transcripts.
//
// ASR providers emit whatever speaker labels their diarizer produces:
// numeric indices with gaps, provider-prefixed strings, or nothing at all.
// Densify rewrites them into gapless 0-based ids ordered by first appearance,
// so downstream voiceprint matching and rendering can rely on a stable
// scheme. Assign attributes unlabelled raw segments to diarization turns by
// majority time overlap, falling back to the turn nearest the segment
// midpoint.
package diarize

import (
	"github.com/minutekit/minutekit/pkg/meeting"
	"github.com/minutekit/minutekit/pkg/provider/asr"
)

// Turn is one contiguous span attributed to a single speaker by an external
// diarizer. Speaker is the diarizer's own label, not a dense id.
type Turn struct {
	Speaker  string
	StartSec float64
	EndSec   float64
}

// Densify converts raw provider segments into transcript segments with dense
// 0-based speaker ids assigned in order of first appearance. Segments with an
// empty RawSpeaker share one label, so an undiarized transcript comes out as
// a single speaker 0.
func Densify(raw []asr.RawSegment) []meeting.Segment {
	out := make([]meeting.Segment, len(raw))
	remap := make(map[string]int)

	for i, seg := range raw {
		dense, ok := remap[seg.RawSpeaker]
		if !ok {
			dense = len(remap)
			remap[seg.RawSpeaker] = dense
		}
		out[i] = meeting.Segment{
			Text:      seg.Text,
			StartSec:  seg.StartSec,
			EndSec:    seg.EndSec,
			SpeakerID: dense,
		}
	}
	return out
}

// Assign returns a copy of raw with RawSpeaker set from turns. For each
// segment the turn with the largest time overlap wins; ties go to the earlier
// turn. A segment overlapping no turn at all is attributed to the turn whose
// centre lies closest to the segment midpoint. With no turns, segments are
// returned unchanged.
func Assign(raw []asr.RawSegment, turns []Turn) []asr.RawSegment {
	out := make([]asr.RawSegment, len(raw))
	copy(out, raw)
	if len(turns) == 0 {
		return out
	}

	for i, seg := range out {
		best := -1
		bestOverlap := 0.0
		for t, turn := range turns {
			if ov := overlap(seg.StartSec, seg.EndSec, turn.StartSec, turn.EndSec); ov > bestOverlap {
				best, bestOverlap = t, ov
			}
		}
		if best < 0 {
			best = nearestTurn(seg.StartSec, seg.EndSec, turns)
		}
		out[i].RawSpeaker = turns[best].Speaker
	}
	return out
}

// SpeakerIDs returns the distinct speaker ids present in segments, in order
// of first appearance.
func SpeakerIDs(segments []meeting.Segment) []int {
	seen := make(map[int]struct{})
	var ids []int
	for _, seg := range segments {
		if _, ok := seen[seg.SpeakerID]; ok {
			continue
		}
		seen[seg.SpeakerID] = struct{}{}
		ids = append(ids, seg.SpeakerID)
	}
	return ids
}

// LongestSegmentPerSpeaker returns, for each speaker id, the index of that
// speaker's longest segment. Used to pick the clip handed to the voiceprint
// encoder.
func LongestSegmentPerSpeaker(segments []meeting.Segment) map[int]int {
	longest := make(map[int]int)
	for i, seg := range segments {
		cur, ok := longest[seg.SpeakerID]
		if !ok || seg.Duration() > segments[cur].Duration() {
			longest[seg.SpeakerID] = i
		}
	}
	return longest
}

func overlap(aStart, aEnd, bStart, bEnd float64) float64 {
	start := aStart
	if bStart > start {
		start = bStart
	}
	end := aEnd
	if bEnd < end {
		end = bEnd
	}
	if end <= start {
		return 0
	}
	return end - start
}

func nearestTurn(startSec, endSec float64, turns []Turn) int {
	mid := (startSec + endSec) / 2
	best := 0
	bestDist := -1.0
	for i, turn := range turns {
		centre := (turn.StartSec + turn.EndSec) / 2
		dist := mid - centre
		if dist < 0 {
			dist = -dist
		}
		if bestDist < 0 || dist < bestDist {
			best, bestDist = i, dist
		}
	}
	return best
}

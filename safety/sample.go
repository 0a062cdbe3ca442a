package safety

// SampleLen is the number of readings a Sample keeps.
const SampleLen = 6

// Sample is a fixed-size window over the most recent integer readings of a
// signal. The zero value holds SampleLen zeros.
type Sample struct {
	values [SampleLen]int
	min    int
	max    int
}

// Update pushes v as the newest reading and recomputes min and max over the
// whole window.
func (s *Sample) Update(v int) {
	for i := SampleLen - 1; i > 0; i-- {
		s.values[i] = s.values[i-1]
	}
	s.values[0] = v

	s.min, s.max = v, v
	for _, x := range s.values[1:] {
		if x < s.min {
			s.min = x
		}
		if x > s.max {
			s.max = x
		}
	}
}

// Last returns the newest reading.
func (s Sample) Last() int { return s.values[0] }

// Min returns the smallest reading in the window.
func (s Sample) Min() int { return s.min }

// Max returns the largest reading in the window.
func (s Sample) Max() int { return s.max }

// Values returns the window, newest first.
func (s Sample) Values() [SampleLen]int { return s.values }

// Reset clears the window back to zeros.
func (s *Sample) Reset() { *s = Sample{} }

package eviction

// state is the manager's in-memory bookkeeping: a min-heap of visit times
// plus the two maps it indexes, kept behind one lock as a single logical
// value. preserve is never persisted — after a restart there is no
// in-flight work to protect from eviction.
type state struct {
	items      timeHeap
	timeToData map[int64]map[string]struct{}
	dataToTime map[string]int64
	preserve   map[string]struct{}
}

func newState() *state {
	return &state{
		timeToData: make(map[int64]map[string]struct{}),
		dataToTime: make(map[string]int64),
		preserve:   make(map[string]struct{}),
	}
}

// persistedState is the subset of state written to and read from disk:
// items, time_to_data, and data_to_time. preserve is intentionally
// excluded.
type persistedState struct {
	Items      []int64
	TimeToData map[int64][]string
	DataToTime map[string]int64
}

func (s *state) toPersisted() *persistedState {
	timeToData := make(map[int64][]string, len(s.timeToData))

	for t, paths := range s.timeToData {
		list := make([]string, 0, len(paths))
		for path := range paths {
			list = append(list, path)
		}

		timeToData[t] = list
	}

	dataToTime := make(map[string]int64, len(s.dataToTime))
	for path, t := range s.dataToTime {
		dataToTime[path] = t
	}

	return &persistedState{
		Items:      append([]int64(nil), s.items...),
		TimeToData: timeToData,
		DataToTime: dataToTime,
	}
}

func fromPersisted(p *persistedState) *state {
	s := newState()

	s.items = append(timeHeap(nil), p.Items...)

	for t, paths := range p.TimeToData {
		set := make(map[string]struct{}, len(paths))
		for _, path := range paths {
			set[path] = struct{}{}
		}

		s.timeToData[t] = set
	}

	for path, t := range p.DataToTime {
		s.dataToTime[path] = t
	}

	return s
}

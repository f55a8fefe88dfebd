package timing

// lapDetector is the crossing and lap state machine's private state. The
// *Set flags distinguish "never happened" from a timestamp of zero.
type lapDetector struct {
	peak     uint8
	peakTime uint32

	lapStart    uint32
	lapStartSet bool

	lastLapSet bool

	raceStarted bool
}

func (d *lapDetector) clearPeak(s *State) {
	d.peak = 0
	d.peakTime = 0
	s.PeakRSSI = 0
}

// gateOpen reports whether peak capture is allowed at now. Until the first
// lap there is no lap start, so the minimum-lap gate stays open.
func (d *lapDetector) gateOpen(s *State, now uint32) bool {
	if s.MinLapMs == 0 || !d.lapStartSet {
		return true
	}
	return now-d.lapStart >= s.MinLapMs
}

// processLocked advances the detector by one sample. Caller holds c.mu.
func (c *Core) processLocked(v uint8, now uint32, evs *eventBuf) {
	s := &c.state
	d := &c.lap

	s.CurrentRSSI = v
	if v < s.NadirRSSI {
		s.NadirRSSI = v
	}
	if v < s.PassNadirRSSI {
		s.PassNadirRSSI = v
	}

	c.ext.observe(v, now, s, &c.diag)

	open := d.gateOpen(s, now)
	if open && v >= s.EnterRSSI && v > d.peak {
		d.peak = v
		d.peakTime = now
		s.PeakRSSI = v
	}

	crossing := open && v >= s.EnterRSSI
	if crossing != s.Crossing {
		s.Crossing = crossing
		if crossing {
			s.CrossingStart = now
		}
		evs.add(event{kind: eventCrossing, active: crossing, rssi: v})
	}

	if d.peak == 0 || v >= d.peak || v >= s.ExitRSSI {
		return
	}

	if d.lastLapSet && now-s.LastLapTime < InterLapMinimumMs {
		c.diag.LapsBounced.Add(1)
		d.clearPeak(s)
		return
	}

	lap := c.recordLap()
	s.PassNadirRSSI = nadirSentinel
	evs.add(event{kind: eventLap, lap: lap})
}

// recordLap turns the pending peak into a LapRecord. Caller holds c.mu.
func (c *Core) recordLap() LapRecord {
	s := &c.state
	d := &c.lap

	ts := d.peakTime
	var lapTime uint32
	switch {
	case s.LapCount == 0 && d.raceStarted:
		lapTime = ts - s.RaceStart
	case s.LapCount > 0 && d.lapStartSet:
		lapTime = ts - d.lapStart
	}

	lap := LapRecord{
		Number:    s.LapCount + 1,
		Timestamp: ts,
		LapTime:   lapTime,
		PeakRSSI:  d.peak,
		Slot:      c.slot,
		Valid:     true,
	}
	if c.laps.Push(lap) {
		c.diag.LapOverflows.Add(1)
	}
	c.diag.LapsRecorded.Add(1)

	s.LastLapTime = ts
	s.LapCount++
	d.lastLapSet = true
	d.lapStart = ts
	d.lapStartSet = true
	d.clearPeak(s)
	return lap
}

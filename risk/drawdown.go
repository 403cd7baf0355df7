package risk

// drawdownTracker keeps a PnL high-water mark and derives drawdown percent.
// While the mark is non-positive no meaningful drawdown exists, so it reports
// zero until PnL has been above water.
type drawdownTracker struct {
	hwm float64
	pnl float64
	set bool
}

// update records the latest PnL and advances the mark.
func (d *drawdownTracker) update(pnl float64) {
	d.pnl = pnl
	if !d.set || pnl > d.hwm {
		d.hwm = pnl
		d.set = true
	}
}

// drawdownPct returns max(0, (HWM - pnl) / |HWM| * 100); 0 while HWM <= 0.
func (d *drawdownTracker) drawdownPct() float64 {
	if !d.set || d.hwm <= 0 {
		return 0
	}
	dd := (d.hwm - d.pnl) / d.hwm * 100
	if dd < 0 {
		return 0
	}
	return dd
}

// reset clears the mark, used at session start and midnight rollover.
func (d *drawdownTracker) reset() {
	d.hwm = 0
	d.pnl = 0
	d.set = false
}

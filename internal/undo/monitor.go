package undo

// Monitor receives progress reports from long-running operations.
// Cancellation is carried separately by context.Context.
type Monitor interface {
	// BeginTask announces the total units of work the task will report.
	BeginTask(name string, totalWork int)
	SetTaskName(name string)
	Worked(work int)
	Done()
}

// NopMonitor discards progress.
type NopMonitor struct{}

func (NopMonitor) BeginTask(string, int) {}
func (NopMonitor) SetTaskName(string)    {}
func (NopMonitor) Worked(int)            {}
func (NopMonitor) Done()                 {}

// Split returns a monitor whose whole task counts as work units of parent.
// Progress reported through the child is scaled proportionally and never
// exceeds work, so parent progress stays monotonic.
func Split(parent Monitor, work int) Monitor {
	if parent == nil {
		return NopMonitor{}
	}
	return &subMonitor{parent: parent, parentWork: work}
}

type subMonitor struct {
	parent     Monitor
	parentWork int
	total      int
	done       int
	reported   int
}

func (m *subMonitor) BeginTask(name string, totalWork int) {
	m.total = totalWork
	if name != "" {
		m.parent.SetTaskName(name)
	}
}

func (m *subMonitor) SetTaskName(name string) {
	m.parent.SetTaskName(name)
}

func (m *subMonitor) Worked(work int) {
	if work <= 0 {
		return
	}
	m.done += work
	if m.total > 0 && m.done > m.total {
		m.done = m.total
	}

	want := m.parentWork
	if m.total > 0 {
		want = m.parentWork * m.done / m.total
	}
	m.report(want)
}

func (m *subMonitor) Done() {
	m.report(m.parentWork)
}

func (m *subMonitor) report(want int) {
	if want > m.reported {
		m.parent.Worked(want - m.reported)
		m.reported = want
	}
}

func orNop(mon Monitor) Monitor {
	if mon == nil {
		return NopMonitor{}
	}
	return mon
}

// runSplit runs fn against a sub-monitor worth work units of mon and then
// completes the sub-monitor, so mon advances by exactly work.
func runSplit(mon Monitor, work int, fn func(Monitor) error) error {
	sub := Split(mon, work)
	defer sub.Done()
	return fn(sub)
}

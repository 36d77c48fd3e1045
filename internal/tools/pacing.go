package tools

import "time"

// Pacing is the minimum spacing issued before each tool call to stay under
// the compute and LLM providers' rate limits.
type Pacing struct {
	Terminal          time.Duration
	ReadFiles         time.Duration
	WriteFilesBase    time.Duration
	WriteFilesPerFile time.Duration
	InstallPackages   time.Duration
}

// DefaultPacing returns the production spacing.
func DefaultPacing() Pacing {
	return Pacing{
		Terminal:          time.Second,
		ReadFiles:         500 * time.Millisecond,
		WriteFilesBase:    500 * time.Millisecond,
		WriteFilesPerFile: 200 * time.Millisecond,
		InstallPackages:   1500 * time.Millisecond,
	}
}

// WriteDelay scales the write pacing by batch size.
func (p Pacing) WriteDelay(files int) time.Duration {
	return p.WriteFilesBase + time.Duration(files)*p.WriteFilesPerFile
}

// Package pipeline runs one conversion batch end to end: it takes the run
// lock on the output tree, scans the input root, plans a job per file,
// executes the jobs, then renders, records and announces the run report.
package pipeline

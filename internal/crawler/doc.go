// Package crawler holds the types shared by every stage of a harvest run:
// policies, raw extraction values, artifacts, the run summary, the browser and
// storage ports, and the error taxonomy.
package crawler

package sinks

import (
	"time"

	"github.com/JakeFAU/harvester/internal/crawler"
)

var (
	fixtureStarted  = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fixtureFinished = fixtureStarted.Add(90 * time.Second)
)

func fixtureSummary() *crawler.RunSummary {
	s := crawler.NewRunSummary("run-1", fixtureStarted)
	s.RecordPage(crawler.PageOutcome{Index: 1, URL: "https://shop.example.com/list?p=1", Status: crawler.PageProcessed, Records: 1, Artifacts: 2})
	s.Record(
		crawler.SavedArtifact{
			Artifact: crawler.Artifact{Kind: crawler.KindImage, Section: "page-1", NameHint: "logo", Value: "https://shop.example.com/logo.png", Index: -1, Page: 1},
			Status:   crawler.StatusSaved,
			Path:     "images/page-1/logo.png",
		},
		crawler.SavedArtifact{
			Artifact: crawler.Artifact{Kind: crawler.KindFile, Section: "page-1", NameHint: "manual", Value: "https://shop.example.com/manual.pdf", Index: -1, Page: 1},
			Status:   crawler.StatusFailed,
			Error:    "fetch https://shop.example.com/manual.pdf: HTTP 500 after 3 attempt(s)",
		},
	)
	s.State = crawler.StateDone
	s.FinishedAt = fixtureFinished
	return s
}

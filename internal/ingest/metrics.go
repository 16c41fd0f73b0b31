package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	documentsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contextforge_documents_ingested_total",
		Help: "Documents that completed ingestion, by source type and outcome.",
	}, []string{"source_type", "outcome"})

	chunksEmbedded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contextforge_chunks_embedded_total",
		Help: "Text chunks successfully embedded.",
	})

	captionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contextforge_image_captions_total",
		Help: "Image captions created by the vision capability.",
	})
)

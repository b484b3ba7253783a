package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/caretide/priorauth/internal/adapters/database"
	"github.com/caretide/priorauth/internal/adapters/search"
	"github.com/caretide/priorauth/internal/domain/entities"
	"github.com/caretide/priorauth/internal/infrastructure/clients/postgres"
	"github.com/caretide/priorauth/internal/infrastructure/clients/typesense"
	"github.com/caretide/priorauth/pkg/config"
)

type seedCase struct {
	entities.Case
	documents []string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	pgClient, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pgClient.Close()

	tsClient, err := typesense.NewClient(&cfg.Typesense)
	var searchRepo *search.TypesenseAdapter
	if err == nil {
		searchRepo = search.NewTypesenseAdapter(tsClient)
		if err := searchRepo.InitSchema(context.Background()); err != nil {
			log.Printf("Warning: failed to init search schema: %v", err)
			searchRepo = nil
		}
	} else {
		log.Printf("Warning: Typesense unavailable, seeding database only: %v", err)
	}

	caseRepo := database.NewCaseAdapter(pgClient)
	documentRepo := database.NewDocumentAdapter(pgClient)

	ctx := context.Background()

	if os.Getenv("RESET_DB") == "true" {
		log.Println("RESET_DB=true detected, truncating tables before seeding")
		_, err := pgClient.DB().ExecContext(ctx, `
			TRUNCATE TABLE
				decision_notifications,
				case_documents,
				pa_cases
			RESTART IDENTITY CASCADE
		`)
		if err != nil {
			log.Fatalf("Failed to reset tables: %v", err)
		}
	}

	now := time.Now()
	extracted := func(patient, diagnosis string, dxCodes, cptCodes []string, summary string, docs ...string) seedCase {
		return seedCase{
			Case: entities.Case{
				ID:             uuid.New().String(),
				PatientName:    patient,
				Diagnosis:      diagnosis,
				DiagnosisCodes: dxCodes,
				ProcedureCodes: cptCodes,
				Summary:        summary,
				Status:         entities.CaseStatusExtracted,
				Timeline: []entities.TimelineEvent{
					{Timestamp: now, Event: "Clinical note extracted", Status: string(entities.CaseStatusExtracted)},
				},
				CreatedAt: now,
				UpdatedAt: now,
			},
			documents: docs,
		}
	}

	cases := []seedCase{
		extracted(
			"Sarah Johnson",
			"Atherosclerotic heart disease of native coronary artery",
			[]string{"I25.10"},
			[]string{"33510"},
			"58-year-old female with stable angina refractory to medical therapy. Cardiac catheterization shows three-vessel disease. CABG recommended.",
			"clinical_notes",
		),
		extracted(
			"Marcus Webb",
			"Unilateral primary osteoarthritis, right knee",
			[]string{"M17.11"},
			[]string{"73721"},
			"45-year-old male with persistent right knee pain after 8 weeks of physical therapy. MRI requested to evaluate meniscal involvement.",
			"pt_notes", "clinical_summary",
		),
		extracted(
			"Elena Ruiz",
			"Chronic lower back pain",
			[]string{"ZZZ.99"},
			[]string{"70551"},
			"Referred for imaging. Diagnosis coding pending chart review.",
		),
		extracted(
			"David Okafor",
			"Unilateral primary osteoarthritis, left knee",
			[]string{"M17.12"},
			[]string{"29881"},
			"52-year-old male with mechanical symptoms and a positive McMurray test. Arthroscopy requested; MRI report not yet attached.",
			"pt_notes",
		),
	}

	for _, sc := range cases {
		if err := caseRepo.Create(ctx, &sc.Case); err != nil {
			log.Printf("Failed to create case for %s: %v", sc.PatientName, err)
			continue
		}

		for _, docType := range sc.documents {
			if err := documentRepo.Add(ctx, sc.ID, docType); err != nil {
				log.Printf("Failed to attach %s to case %s: %v", docType, sc.ID, err)
			}
		}

		if searchRepo != nil {
			if err := searchRepo.Index(ctx, &sc.Case); err != nil {
				log.Printf("Failed to index case %s: %v", sc.ID, err)
			}
		}

		log.Printf("Seeded case %s (%s)", sc.ID, sc.PatientName)
	}

	log.Println("Seeding completed successfully")
}

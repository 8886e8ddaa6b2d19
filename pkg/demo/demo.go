// Package demo loads a small finance corpus into a knowledge base and queries
// it, showing embedding and nearest-neighbour retrieval in isolation.
package demo

import (
	"context"
	"fmt"

	"github.com/barekit/docinsights/pkg/knowledge"
)

// Namespace is the collection the demo corpus is written to.
const Namespace = "my_collection"

// DefaultQuestion is the query the demo asks when none is given.
const DefaultQuestion = "What is public finance"

// FinanceDocuments returns the demo corpus.
func FinanceDocuments() []knowledge.Chunk {
	docs := []struct{ id, source, text string }{
		{"id1", "investopedia", "Finance is a term that addresses matters regarding the management, " +
			"creation, and study of money and investments. It involves the use of credit and debt, " +
			"securities, and investment to finance current projects using future income flows. " +
			"Finance is closely linked to the time value of money, interest rates, and other related " +
			"topics because of this temporal aspect"},
		{"id2", "investopedia", "Public finance includes tax systems, government expenditures, budget procedures, " +
			"stabilization policies and instruments, debt issues, and other government concerns. " +
			"Corporate finance involves managing assets, liabilities, revenues, and debts for " +
			"businesses. Personal finance defines all financial decisions and activities of an " +
			"individual or household, including budgeting, insurance, mortgage planning, savings, " +
			"and retirement planning"},
		{"id3", "techcanvass", "The BFSI sector is a critical element of the economy. Organizations of the BFSI sector " +
			"help to enhance the possibility of the accumulation and circulation of capital, granting " +
			"business owners to expand their businesses, and giving individuals the possibility to manage " +
			"their finances properly."},
		{"id4", "techcanvass", "Interestingly, the World Bank data shows that the percentage of global GDP, controlled by the " +
			"BFSI sector, has been more than 20%. The BFSI sector carries out this important task by generating " +
			"income, which helps to reduce the risks that can cause economic shocks in the country, and by " +
			"ensuring that diversification of the economy is reached. In 2008, during one of the most significant " +
			"financial crises of our times, the BFSI sector’s resilience helped prevent a complete economic collapse"},
	}

	chunks := make([]knowledge.Chunk, len(docs))
	for i, d := range docs {
		chunks[i] = knowledge.Chunk{
			ID:       d.id,
			Text:     d.text,
			Source:   d.source,
			Metadata: map[string]string{"source": d.source},
		}
	}
	return chunks
}

// Load ingests the demo corpus into kb.
func Load(ctx context.Context, kb *knowledge.KnowledgeBase) error {
	if err := kb.Ingest(ctx, FinanceDocuments()); err != nil {
		return fmt.Errorf("failed to load demo corpus: %w", err)
	}
	return nil
}

// Query returns the n documents nearest to question.
func Query(ctx context.Context, kb *knowledge.KnowledgeBase, question string, n int) ([]knowledge.Chunk, error) {
	if n <= 0 {
		n = 1
	}
	res, err := kb.Retrieve(ctx, question, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query demo corpus: %w", err)
	}
	return res, nil
}

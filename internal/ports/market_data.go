package ports

import (
	"context"

	"github.com/alejandrodnm/posmon/internal/domain"
)

// QuoteResult es el resultado independiente de un ticker dentro de un batch.
type QuoteResult struct {
	Quote domain.Quote
	Err   error
}

// MarketDataProvider obtiene cotizaciones actuales.
type MarketDataProvider interface {
	// FetchQuote devuelve la cotización de un ticker.
	FetchQuote(ctx context.Context, ticker string) (domain.Quote, error)

	// FetchQuotesBatch devuelve un resultado por ticker. El fallo de un ticker
	// no afecta a los demás; siempre hay una entrada por ticker pedido.
	FetchQuotesBatch(ctx context.Context, tickers []string) map[string]QuoteResult
}

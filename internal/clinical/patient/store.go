package patient

import "context"

// Store persists patient records. Implementations must join an ambient
// transaction from context when one is present.
type Store interface {
	Create(ctx context.Context, p *Patient) error
	Get(ctx context.Context, id string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id string) error
}

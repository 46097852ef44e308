package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"poslot/backend/internal/domain"
	"poslot/backend/internal/store"
)

// SeedFile is the YAML document accepted by `ledgerctl seed`.
type SeedFile struct {
	Products      []SeedProduct      `yaml:"products"`
	Distributions []SeedDistribution `yaml:"distributions"`
}

type SeedProduct struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	SKU        string `yaml:"sku"`
	Category   string `yaml:"category"`
	PriceCents int64  `yaml:"price_cents"`
}

type SeedDistribution struct {
	CashierID string     `yaml:"cashier_id"`
	Notes     string     `yaml:"notes"`
	Items     []SeedItem `yaml:"items"`
}

type SeedItem struct {
	ProductID      string `yaml:"product_id"`
	Quantity       int    `yaml:"quantity"`
	UnitPriceCents int64  `yaml:"unit_price_cents,omitempty"`
}

// SeedResult reports what a seed run wrote.
type SeedResult struct {
	ProductsCreated []string `json:"products_created"`
	ProductsSkipped []string `json:"products_skipped"`
	LotsCreated     []string `json:"lots_created"`
}

// LoadSeedFile parses a seed file; unknown keys are rejected.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var seed SeedFile
	if err := decoder.Decode(&seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	return &seed, nil
}

func NewSeedCommand(opts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load catalog products and distribution lots from a YAML file",
		Long: `Create the products listed in the seed file (existing ids are skipped)
and assign each distribution as a pending lot to its cashier.

Example seed file:
  products:
    - id: prd-mie-01
      name: Mie Goreng Instan
      sku: SKU-MIE-01
      category: grocery
      price_cents: 3500
  distributions:
    - cashier_id: cashier-a
      items:
        - product_id: prd-mie-01
          quantity: 24`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := LoadSeedFile(file)
			if err != nil {
				return WrapExitError(ExitCommandError, "seed", err)
			}
			return runSeed(cmd, opts, seed)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "path to the seed YAML file (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runSeed(cmd *cobra.Command, opts *RootOptions, seed *SeedFile) error {
	b, err := opts.backend(cmd.Context())
	if err != nil {
		return err
	}
	defer b.close()
	ctx := opts.operatorContext(cmd.Context())

	result := SeedResult{ProductsCreated: []string{}, ProductsSkipped: []string{}, LotsCreated: []string{}}
	lines := make([]string, 0, len(seed.Products)+len(seed.Distributions))

	for _, p := range seed.Products {
		id := domain.CanonicalProductID(p.ID)
		if id != "" {
			if _, err := b.catalog.GetProduct(ctx, id); err == nil {
				result.ProductsSkipped = append(result.ProductsSkipped, id)
				lines = append(lines, "product "+id+" exists, skipped")
				continue
			} else if !errors.Is(err, store.ErrNotFound) {
				return WrapExitError(ExitFailure, "lookup product "+id, err)
			}
		}
		created, err := b.service.CreateProduct(ctx, domain.ProductCreateRequest{
			ID:         p.ID,
			Name:       p.Name,
			SKU:        p.SKU,
			Category:   p.Category,
			PriceCents: p.PriceCents,
		})
		if err != nil {
			return WrapExitError(ExitFailure, "create product "+p.SKU, err)
		}
		result.ProductsCreated = append(result.ProductsCreated, created.ID)
		lines = append(lines, "product "+created.ID+" created")
	}

	for i, d := range seed.Distributions {
		items := make([]domain.DistributionItemRequest, 0, len(d.Items))
		for _, item := range d.Items {
			items = append(items, domain.DistributionItemRequest{
				ProductID:      item.ProductID,
				Quantity:       item.Quantity,
				UnitPriceCents: item.UnitPriceCents,
			})
		}
		lot, err := b.service.CreateDistribution(ctx, domain.DistributionCreateRequest{
			CashierID: d.CashierID,
			Notes:     d.Notes,
			Items:     items,
		})
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("distribution %d for %s", i, d.CashierID), err)
		}
		result.LotsCreated = append(result.LotsCreated, lot.ID)
		lines = append(lines, fmt.Sprintf("lot %s assigned to %s (value %d)", lot.ID, lot.CashierID, lot.TotalValueCents))
	}

	return writeResult(cmd.OutOrStdout(), opts.Format, result, lines)
}

package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement/pkg/db/models"
)

// StockCreator opens the inventory record that accompanies a new product.
type StockCreator interface {
	Create(ctx context.Context, tx *gorm.DB, productID int64, quantityOnHand, minThreshold int) error
}

// SeedItem is one starter product together with its opening stock.
type SeedItem struct {
	Product        models.Product
	QuantityOnHand int
	MinThreshold   int
}

// DefaultSeed is the starter catalog of the storefront.
func DefaultSeed() []SeedItem {
	return []SeedItem{
		{
			Product: models.Product{
				ID: 1, Name: "Procesador Intel Core i9-13900K", BasePrice: decimal.NewFromInt(2323000),
				Description: "Procesador de 24 núcleos y 32 hilos, frecuencia turbo de hasta 5.8 GHz",
				Brand:       "Intel", Category: "Procesadores", Featured: true,
			},
			QuantityOnHand: 50, MinThreshold: 5,
		},
		{
			Product: models.Product{
				ID: 2, Name: "Tarjeta Gráfica NVIDIA RTX 4080", BasePrice: decimal.NewFromInt(4670000),
				Description: "16GB GDDR6X, ray tracing y DLSS 3.0",
				Brand:       "NVIDIA", Category: "Tarjetas Gráficas", Featured: true,
			},
			QuantityOnHand: 30, MinThreshold: 3,
		},
		{
			Product: models.Product{
				ID: 3, Name: "SSD Samsung 980 Pro 1TB", BasePrice: decimal.NewFromInt(743440),
				Description: "Velocidades de lectura hasta 7000 MB/s, PCIe 4.0 NVMe",
				Brand:       "Samsung", Category: "Almacenamiento", Featured: true,
			},
			QuantityOnHand: 100, MinThreshold: 10,
		},
		{
			Product: models.Product{
				ID: 4, Name: "Memoria RAM Corsair Vengeance 32GB", BasePrice: decimal.NewFromInt(505000),
				Description: "DDR5 5600MHz, CL36, RGB",
				Brand:       "Corsair", Category: "Memoria RAM",
			},
			QuantityOnHand: 80, MinThreshold: 8,
		},
		{
			Product: models.Product{
				ID: 5, Name: "Placa Base ASUS ROG Strix Z790-E", BasePrice: decimal.NewFromInt(2530000),
				Description: "Socket LGA1700, PCIe 5.0, WiFi 6E",
				Brand:       "ASUS", Category: "Placas Base", Featured: true,
			},
			QuantityOnHand: 25, MinThreshold: 2,
		},
	}
}

// Seed inserts items and their inventory inside tx. It does nothing when the
// catalog already holds products, so it is safe to run on every boot.
// It reports how many products were inserted.
func Seed(ctx context.Context, tx *gorm.DB, stock StockCreator, items []SeedItem) (int, error) {
	if tx == nil {
		return 0, errors.New("transaction required")
	}
	if stock == nil {
		return 0, errors.New("stock creator required")
	}

	var existing int64
	if err := tx.WithContext(ctx).Model(&models.Product{}).Count(&existing).Error; err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	if existing > 0 {
		return 0, nil
	}

	for _, item := range items {
		product := item.Product
		if err := tx.WithContext(ctx).Create(&product).Error; err != nil {
			return 0, fmt.Errorf("insert product %d: %w", product.ID, err)
		}
		if err := stock.Create(ctx, tx, product.ID, item.QuantityOnHand, item.MinThreshold); err != nil {
			return 0, fmt.Errorf("insert inventory %d: %w", product.ID, err)
		}
	}
	return len(items), nil
}

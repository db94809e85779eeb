package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Catalog is the commercial configuration: the credit cost of each service
// tier and the credit packs offered for sale.
type Catalog struct {
	Tariffs map[string]int64 `mapstructure:"tariffs"`
	Plans   []PlanSpec       `mapstructure:"plans"`
}

type PlanSpec struct {
	Name               string   `mapstructure:"name"`
	Type               string   `mapstructure:"type"`
	PriceCents         int64    `mapstructure:"priceCents"`
	OriginalPriceCents int64    `mapstructure:"originalPriceCents"`
	DiscountPercentage int      `mapstructure:"discountPercentage"`
	Credits            int64    `mapstructure:"credits"`
	Description        string   `mapstructure:"description"`
	Features           []string `mapstructure:"features"`
	SortOrder          int      `mapstructure:"sortOrder"`
}

func DefaultCatalog() Catalog {
	return Catalog{
		Tariffs: map[string]int64{
			"basic":    1,
			"complete": 3,
		},
		Plans: []PlanSpec{
			{
				Name:        "Plano Básico",
				Type:        "basic",
				PriceCents:  2990,
				Credits:     1000,
				Description: "Análise de personalidade essencial",
				Features: []string{
					"Tipo MBTI",
					"Pontuação de paixão",
					"Cor ideal",
					"Compatibilidade com celebridades",
				},
				SortOrder: 1,
			},
			{
				Name:        "Plano Completo",
				Type:        "complete",
				PriceCents:  5990,
				Credits:     3000,
				Description: "Análise completa com relatório detalhado",
				Features: []string{
					"Tudo do plano básico",
					"Análise detalhada de traços",
					"Recomendações personalizadas",
					"Relatório em PDF",
				},
				SortOrder: 2,
			},
			{
				Name:               "Pacote de Créditos",
				Type:               "credits_pack",
				PriceCents:         9900,
				OriginalPriceCents: 11990,
				DiscountPercentage: 17,
				Credits:            5000,
				Description:        "Créditos avulsos para várias análises",
				Features: []string{
					"5000 créditos",
					"Sem validade",
				},
				SortOrder: 3,
			},
		},
	}
}

type CatalogHolder struct {
	current atomic.Value // holds Catalog
}

// NewCatalogHolder reads catalog.yml from the given directories, falling back
// to DefaultCatalog when no file exists, and reloads it on change.
func NewCatalogHolder(log *zap.Logger, paths ...string) (*CatalogHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.catalog")

	v := viper.New()

	v.SetConfigName("catalog")
	v.SetConfigType("yml")
	if len(paths) == 0 {
		paths = []string{"/etc/testematch", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("TESTEMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
		defaults := DefaultCatalog()
		v.SetDefault("catalog.tariffs", defaults.Tariffs)
		v.SetDefault("catalog.plans", defaults.Plans)
	}

	cfg, err := decodeCatalog(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticCatalog(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeCatalog(v)
		if err != nil {
			log.Warn("catalog reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("catalog reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// NewStaticCatalog returns a holder that never reloads.
func NewStaticCatalog(cfg Catalog) *CatalogHolder {
	holder := &CatalogHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *CatalogHolder) Get() Catalog {
	return h.current.Load().(Catalog)
}

// Tariff returns the credit cost of a service tier.
func (h *CatalogHolder) Tariff(tier string) (int64, bool) {
	cost, ok := h.Get().Tariffs[strings.ToLower(strings.TrimSpace(tier))]
	return cost, ok
}

func decodeCatalog(v *viper.Viper) (Catalog, error) {
	var cfg Catalog
	if err := v.UnmarshalKey("catalog", &cfg); err != nil {
		return Catalog{}, err
	}
	if err := validateCatalog(cfg); err != nil {
		return Catalog{}, err
	}
	return cfg, nil
}

func validateCatalog(cfg Catalog) error {
	if len(cfg.Tariffs) == 0 {
		return errors.New("catalog.tariffs cannot be empty")
	}
	for tier, cost := range cfg.Tariffs {
		if cost < 1 {
			return fmt.Errorf("catalog.tariffs.%s must be at least 1", tier)
		}
	}
	for i, plan := range cfg.Plans {
		if strings.TrimSpace(plan.Name) == "" {
			return fmt.Errorf("catalog.plans[%d].name is required", i)
		}
		if plan.Credits <= 0 {
			return fmt.Errorf("catalog.plans[%d].credits must be positive", i)
		}
		if plan.PriceCents < 0 {
			return fmt.Errorf("catalog.plans[%d].priceCents cannot be negative", i)
		}
	}
	return nil
}

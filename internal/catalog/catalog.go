// Package catalog loads product lists from YAML and opens one pricing session
// per product.
package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
	"gopkg.in/yaml.v3"

	"github.com/soaringjerry/pricecrowd/internal/services"
)

// Product is one catalog entry. Duration accepts Go duration strings such as
// "90m" and must be a whole number of seconds.
type Product struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Images      []string      `yaml:"images"`
	Duration    time.Duration `yaml:"duration"`
}

type Catalog struct {
	Products []Product `yaml:"products"`
}

// SessionCreator is the subset of the registry the importer needs.
type SessionCreator interface {
	CreateSession(ctx context.Context, caller common.Address, req services.CreateSessionRequest) (*services.SessionView, error)
}

// Parse decodes a catalog and rejects unknown fields.
func Parse(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var c Catalog
	if err := dec.Decode(&c); err != nil {
		if err == io.EOF {
			return nil, errors.New("catalog is empty")
		}
		return nil, errors.Wrap(err, "failed to decode catalog")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read catalog")
	}
	return Parse(bytes.NewReader(data))
}

func (c *Catalog) Validate() error {
	if len(c.Products) == 0 {
		return errors.New("catalog has no products")
	}
	for i, p := range c.Products {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("product %d: name required", i)
		}
		if p.Duration < time.Second || p.Duration%time.Second != 0 {
			return fmt.Errorf("product %q: duration must be a positive whole number of seconds", p.Name)
		}
	}
	return nil
}

// Import creates the sessions in catalog order. It stops at the first
// failure and returns the sessions created so far.
func Import(ctx context.Context, reg SessionCreator, admin common.Address, c *Catalog, log *logan.Entry) ([]*services.SessionView, error) {
	if log == nil {
		log = logan.New()
	}
	out := make([]*services.SessionView, 0, len(c.Products))
	for _, p := range c.Products {
		view, err := reg.CreateSession(ctx, admin, services.CreateSessionRequest{
			ProductName:        p.Name,
			ProductDescription: p.Description,
			ProductImages:      p.Images,
			Duration:           int64(p.Duration / time.Second),
		})
		if err != nil {
			log.WithError(err).WithField("product", p.Name).Error("failed to import product")
			return out, err
		}
		log.WithFields(logan.F{"product": p.Name, "session": view.SessionAddress.Hex()}).Info("imported product")
		out = append(out, view)
	}
	return out, nil
}

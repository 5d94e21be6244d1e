package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	branddomain "github.com/wispbill/wispbill/internal/brand/domain"
	customerdomain "github.com/wispbill/wispbill/internal/customer/domain"
	devicedomain "github.com/wispbill/wispbill/internal/device/domain"
	subscriptiondomain "github.com/wispbill/wispbill/internal/subscription/domain"
	"gorm.io/gorm"
)

const (
	demoBrandName      = "Nusantara Net"
	demoBrandSlug      = "nusantara-net"
	demoGatewayKey     = "dev-gateway-key"
	demoWebhookToken   = "dev-webhook-token"
	demoDeviceName     = "bras-01"
	demoDeviceHost     = "10.10.0.2"
	demoDeviceUser     = "admin"
	demoDevicePassword = "changeme"
	demoCustomerName   = "Budi Santoso"
	demoLogin          = "budi@nusantara"
)

// EnsureDemoData seeds one brand with a package, an access server, and an
// active subscriber so a fresh development database can serve the full
// invoice lifecycle. Every row is keyed on a natural identifier, so repeated
// startups leave existing data untouched.
func EnsureDemoData(db *gorm.DB, cipher *devicedomain.Cipher) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		brand, err := ensureBrandTx(ctx, tx, node)
		if err != nil {
			return err
		}
		if err := ensureBrandTaxTx(ctx, tx, node, brand.ID); err != nil {
			return err
		}
		pkg, err := ensurePackageTx(ctx, tx, node, brand.ID)
		if err != nil {
			return err
		}
		device, err := ensureDeviceTx(ctx, tx, node, cipher)
		if err != nil {
			return err
		}
		customer, err := ensureCustomerTx(ctx, tx, node, brand.ID)
		if err != nil {
			return err
		}
		if err := ensureTechnicalDataTx(ctx, tx, node, customer.ID, device.ID, pkg.Profile); err != nil {
			return err
		}
		return ensureSubscriptionTx(ctx, tx, node, customer.ID, pkg)
	})
}

func ensureBrandTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) (branddomain.Brand, error) {
	var brand branddomain.Brand
	err := tx.WithContext(ctx).Where("slug = ?", demoBrandSlug).First(&brand).Error
	if err == nil {
		return brand, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return brand, err
	}
	now := time.Now().UTC()
	brand = branddomain.Brand{
		ID:        node.Generate(),
		Name:      demoBrandName,
		Slug:      demoBrandSlug,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&brand).Error; err != nil {
		return brand, err
	}
	return brand, nil
}

func ensureBrandTaxTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, brandID snowflake.ID) error {
	var tax branddomain.BrandTax
	err := tx.WithContext(ctx).Where("brand_id = ?", brandID).First(&tax).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	now := time.Now().UTC()
	tax = branddomain.BrandTax{
		ID:           node.Generate(),
		BrandID:      brandID,
		TaxPercent:   11,
		GatewayKey:   demoGatewayKey,
		WebhookToken: demoWebhookToken,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return tx.WithContext(ctx).Create(&tax).Error
}

func ensurePackageTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, brandID snowflake.ID) (branddomain.Package, error) {
	var pkg branddomain.Package
	err := tx.WithContext(ctx).Where("brand_id = ? AND name = ?", brandID, "FTTH 50").First(&pkg).Error
	if err == nil {
		return pkg, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return pkg, err
	}
	now := time.Now().UTC()
	pkg = branddomain.Package{
		ID:        node.Generate(),
		BrandID:   brandID,
		Name:      "FTTH 50",
		SpeedMbps: 50,
		Profile:   "ftth-50",
		BasePrice: 200_000,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&pkg).Error; err != nil {
		return pkg, err
	}
	return pkg, nil
}

func ensureDeviceTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, cipher *devicedomain.Cipher) (devicedomain.NetworkDevice, error) {
	var device devicedomain.NetworkDevice
	err := tx.WithContext(ctx).Where("name = ?", demoDeviceName).First(&device).Error
	if err == nil {
		return device, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return device, err
	}
	encrypted, err := cipher.Encrypt(demoDevicePassword)
	if err != nil {
		return device, err
	}
	now := time.Now().UTC()
	device = devicedomain.NetworkDevice{
		ID:                node.Generate(),
		Name:              demoDeviceName,
		Host:              demoDeviceHost,
		Port:              8728,
		Username:          demoDeviceUser,
		EncryptedPassword: encrypted,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := tx.WithContext(ctx).Create(&device).Error; err != nil {
		return device, err
	}
	return device, nil
}

func ensureCustomerTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, brandID snowflake.ID) (customerdomain.Customer, error) {
	var customer customerdomain.Customer
	err := tx.WithContext(ctx).Where("brand_id = ? AND name = ?", brandID, demoCustomerName).First(&customer).Error
	if err == nil {
		return customer, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return customer, err
	}
	now := time.Now().UTC()
	customer = customerdomain.Customer{
		ID:        node.Generate(),
		BrandID:   brandID,
		Name:      demoCustomerName,
		Email:     "budi@example.com",
		Phone:     "+628120000001",
		Address:   "Jl. Merdeka 1",
		Location:  "Bandung",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&customer).Error; err != nil {
		return customer, err
	}
	return customer, nil
}

func ensureTechnicalDataTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, customerID, deviceID snowflake.ID, profile string) error {
	var td customerdomain.TechnicalData
	err := tx.WithContext(ctx).Where("customer_id = ?", customerID).First(&td).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	now := time.Now().UTC()
	td = customerdomain.TechnicalData{
		ID:             node.Generate(),
		CustomerID:     customerID,
		DeviceID:       deviceID,
		Login:          demoLogin,
		Password:       "pppoe-secret",
		ServiceProfile: profile,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return tx.WithContext(ctx).Create(&td).Error
}

func ensureSubscriptionTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, customerID snowflake.ID, pkg branddomain.Package) error {
	var sub subscriptiondomain.Subscription
	err := tx.WithContext(ctx).Where("customer_id = ?", customerID).First(&sub).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	now := time.Now().UTC()
	firstOfNextMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	sub = subscriptiondomain.Subscription{
		ID:          node.Generate(),
		CustomerID:  customerID,
		PackageID:   pkg.ID,
		Status:      subscriptiondomain.SubscriptionStatusActive,
		BillingMode: subscriptiondomain.BillingModeAutomatic,
		BasePrice:   pkg.BasePrice,
		NextDueDate: firstOfNextMonth,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return tx.WithContext(ctx).Create(&sub).Error
}

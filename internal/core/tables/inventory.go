package tables

import (
	"fmt"

	"github.com/JonMunkholm/lims/internal/core"
)

// InventoryCategories lists the allowed inventory category values.
var InventoryCategories = []string{"reagent", "consumable", "equipment", "kit", "other"}

// InventoryBarcode formats the barcode printed for an inventory item.
func InventoryBarcode(id int64) string {
	return fmt.Sprintf("INV-%06d", id)
}

func init() {
	core.Register(core.TableDefinition{
		Info: core.TableInfo{
			Entity:       core.EntityInventory,
			Table:        "inventory_items",
			Label:        "Inventory",
			NumberColumn: "inventory_id",
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "inventory_id", Type: core.FieldInteger,
				Aliases: []string{"Inventory ID", "inventory_id", "Inventory #", "Item Number"}},
			{Name: "name", Type: core.FieldText, Required: true, Normalizer: NormalizeSpaces,
				Aliases: []string{"Name", "name", "Item Name", "Item", "Product"}},
			{Name: "lot_number", Type: core.FieldText,
				Aliases: []string{"Lot Number", "lot_number", "Lot", "Lot #", "Batch"}},
			{Name: "category", Type: core.FieldEnum, EnumValues: InventoryCategories, Normalizer: NormalizeStatus,
				Aliases: []string{"Category", "category", "Item Type"}},
			{Name: "quantity", Type: core.FieldInteger,
				Aliases: []string{"Quantity", "quantity", "Qty", "Count"}},
			{Name: "unit", Type: core.FieldText,
				Aliases: []string{"Unit", "unit", "Units", "UOM"}},
			{Name: "expiration_date", Type: core.FieldDate,
				Aliases: []string{"Expiration Date", "expiration_date", "Expiry", "Expires", "Exp Date"}},
			{Name: "supplier", Type: core.FieldText,
				Aliases: []string{"Supplier", "supplier", "Vendor", "Manufacturer"}},
			{Name: "catalog_number", Type: core.FieldText,
				Aliases: []string{"Catalog Number", "catalog_number", "Catalog #", "Cat No", "Part Number"}},
			{Name: "location", Type: core.FieldText, Normalizer: NormalizeLocation,
				Aliases: []string{"Location", "location", "Storage Location"}},
			{Name: "unit_price", Type: core.FieldNumeric,
				Aliases: []string{"Unit Price", "unit_price", "Price", "Cost"}},
			{Name: "barcode", Type: core.FieldText, Derived: true,
				Aliases: []string{"Barcode", "barcode"}},
			{Name: "notes", Type: core.FieldText,
				Aliases: []string{"Notes", "notes", "Comments"}},
		},
		NaturalKey: []string{"name", "lot_number"},
		Derive: func(number int64, values map[string]string) {
			values["barcode"] = InventoryBarcode(number)
		},
	})
}

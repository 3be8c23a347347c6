package common

import (
	"fmt"
	"strings"
)

// Info decodes the fields of a Sentinel-2 product name:
// MMM_MSIXXX_YYYYMMDDTHHMMSS_Nxxyy_ROOO_Txxxxx_<Product Discriminator>.SAFE
func Info(productName string) (map[string]string, error) {
	if !strings.HasPrefix(productName, "S2") {
		return nil, fmt.Errorf("Info: not a Sentinel2 product: %s", productName)
	}
	// S2A_MSIL2A_20240101T100401_N0510_R122_T33UXP_20240101T120000
	if len(productName) < len("MMM_MSIXXX_YYYYMMDDTHHMMSS_Nxxyy_ROOO_Txxxxx") || productName[10] != '_' {
		return nil, fmt.Errorf("invalid Sentinel2 file name: %s", productName)
	}
	return map[string]string{
		"SCENE":         productName,
		"MISSION_ID":    productName[0:3],
		"PRODUCT_LEVEL": productName[7:10],
		"DATE":          productName[11:19],
		"YEAR":          productName[11:15],
		"MONTH":         productName[15:17],
		"DAY":           productName[17:19],
		"TIME":          productName[20:26],
		"PDGS":          productName[28:32],
		"ORBIT":         productName[34:37],
		"TILE":          productName[38:44],
	}, nil
}

package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/thinger-io/thinger-ota/pkg/api"
	"github.com/thinger-io/thinger-ota/pkg/errors"
)

var (
	devicesProduct string
	devicesOutput  string
	productsOutput string
)

var devicesCmd = &cobra.Command{
	Use:   "devices [search]",
	Short: "List devices by name, or every device of a product",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDevices,
}

var productsCmd = &cobra.Command{
	Use:   "products [search]",
	Short: "List products by name",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runProducts,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(productsCmd)
	devicesCmd.Flags().StringVar(&devicesProduct, "product", "", "List every device of this product")
	devicesCmd.Flags().StringVarP(&devicesOutput, "output", "o", formatTable, "Output format: table, json or yaml")
	productsCmd.Flags().StringVarP(&productsOutput, "output", "o", formatTable, "Output format: table, json or yaml")
}

func runDevices(cmd *cobra.Command, args []string) error {
	if err := validOutput(devicesOutput); err != nil {
		return err
	}
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	client := newAPIClient(cfg)

	var devices []api.Device
	if devicesProduct != "" {
		devices, err = client.ProductDevices(cmd.Context(), devicesProduct)
	} else {
		search := ""
		if len(args) > 0 {
			search = args[0]
		}
		devices, err = client.Devices(cmd.Context(), search)
	}
	if err != nil {
		return errors.Wrap(err, "device listing failed")
	}

	return printOutput(os.Stdout, devicesOutput, devices, func(w io.Writer) {
		printDevices(w, devices)
	})
}

func printDevices(w io.Writer, devices []api.Device) {
	if len(devices) == 0 {
		fmt.Fprintln(w, "No devices found")
		return
	}

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("  %-30s %-30s %s", "DEVICE", "NAME", "DESCRIPTION")))
	for _, d := range devices {
		marker := offlineStyle.Render("○")
		if d.Connected() {
			marker = onlineStyle.Render("●")
		}
		fmt.Fprintf(w, "%s %-30s %-30s %s\n", marker, d.Device, orDash(d.Name), orDash(d.Description))
	}
}

func runProducts(cmd *cobra.Command, args []string) error {
	if err := validOutput(productsOutput); err != nil {
		return err
	}
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}

	search := ""
	if len(args) > 0 {
		search = args[0]
	}
	products, err := newAPIClient(cfg).Products(cmd.Context(), search)
	if err != nil {
		return errors.Wrap(err, "product listing failed")
	}

	return printOutput(os.Stdout, productsOutput, products, func(w io.Writer) {
		printProducts(w, products)
	})
}

func printProducts(w io.Writer, products []api.Product) {
	if len(products) == 0 {
		fmt.Fprintln(w, "No products found")
		return
	}

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-30s %-30s %s", "PRODUCT", "NAME", "DESCRIPTION")))
	for _, p := range products {
		fmt.Fprintf(w, "%-30s %-30s %s\n", p.Product, orDash(p.Name), orDash(p.Description))
	}
}

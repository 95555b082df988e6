package main

import (
	"fmt"
	"strings"
	"time"

	cab "github.com/secDre4mer/go-mspack"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var listFormat string

type cabinetListing struct {
	Cabinet string        `yaml:"cabinet"`
	Offset  int64         `yaml:"offset,omitempty"`
	SetID   uint16        `yaml:"set_id"`
	Parts   []string      `yaml:"parts"`
	Files   []fileListing `yaml:"files"`
}

type fileListing struct {
	Name       string    `yaml:"name"`
	Size       uint32    `yaml:"size"`
	Modified   time.Time `yaml:"modified"`
	Attributes string    `yaml:"attributes,omitempty"`
	Method     string    `yaml:"method"`
}

var methodNames = map[int]string{
	cab.CompressionNone:    "none",
	cab.CompressionMSZIP:   "mszip",
	cab.CompressionQuantum: "quantum",
	cab.CompressionLZX:     "lzx",
}

func methodName(folder *cab.Folder) string {
	name, ok := methodNames[folder.Method()]
	if !ok {
		return fmt.Sprintf("unknown(%d)", folder.Method())
	}
	if folder.Method() == cab.CompressionLZX {
		return fmt.Sprintf("%s:%d", name, folder.Level())
	}
	return name
}

func attributeString(attributes uint16) string {
	var s strings.Builder
	for _, a := range []struct {
		bit  uint16
		flag byte
	}{
		{cab.AttributeReadOnly, 'r'},
		{cab.AttributeHidden, 'h'},
		{cab.AttributeSystem, 's'},
		{cab.AttributeArch, 'a'},
		{cab.AttributeExec, 'x'},
	} {
		if attributes&a.bit != 0 {
			s.WriteByte(a.flag)
		}
	}
	return s.String()
}

func listCabinet(c *cab.Cabinet) cabinetListing {
	listing := cabinetListing{Cabinet: c.Filename, Offset: c.BaseOffset, SetID: c.SetID}
	for _, part := range c.Parts() {
		listing.Parts = append(listing.Parts, part.Filename)
	}
	for _, file := range c.Files() {
		listing.Files = append(listing.Files, fileListing{
			Name:       file.Name,
			Size:       file.Length,
			Modified:   file.Modified.Time(),
			Attributes: attributeString(file.Attributes),
			Method:     methodName(file.Folder()),
		})
	}
	return listing
}

var listCmd = &cobra.Command{
	Use:   "list CABINET...",
	Short: "List the files of cabinets",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if listFormat != "text" && listFormat != "yaml" {
			return fmt.Errorf("unknown format %q", listFormat)
		}
		d, err := newDecompressor()
		if err != nil {
			return err
		}

		var listings []cabinetListing
		for _, arg := range args {
			cabinets, err := openCabinets(d, arg)
			if err != nil {
				return err
			}
			for _, c := range cabinets {
				listings = append(listings, listCabinet(c))
			}
			d.Close(cabinets[0])
		}

		if listFormat == "yaml" {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(listings)
		}
		w := cmd.OutOrStdout()
		for _, listing := range listings {
			fmt.Fprintf(w, "Viewing cabinet: %s\n", listing.Cabinet)
			fmt.Fprintf(w, " File size | Date       Time     | Attr  | Name\n")
			fmt.Fprintf(w, "-----------+---------------------+-------+-------------\n")
			for _, file := range listing.Files {
				fmt.Fprintf(w, "%10d | %s | %-5s | %s\n", file.Size, file.Modified.Format("02.01.2006 15:04:05"),
					file.Attributes, file.Name)
			}
			fmt.Fprintf(w, "\nAll done, no errors.\n\n")
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listFormat, "format", "text", "output format (text or yaml)")
	rootCmd.AddCommand(listCmd)
}

package store

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/tarancss/chainkit/lib/util"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NetExplorer contains the scan progress of an explorer for one network.
type NetExplorer struct {
	Block  uint64   `json:"block"`  // last block scanned
	Assets []string `json:"assets"` // assets tracked
	Msgs   uint64   `json:"msgs"`   // messages published so far
}

func explorerKey(net string) string { return "expl-" + net }

func assetsKey(net string) string { return "assets-" + net }

// LoadExplorer loads the NetExplorer for the indicated network.
func LoadExplorer(c Cache, net string) (ne NetExplorer, err error) {
	err = loadJSON(c, explorerKey(net), &ne)

	return
}

// SaveExplorer saves the NetExplorer for the indicated network.
func SaveExplorer(c Cache, net string, ne NetExplorer) error {
	return saveJSON(c, explorerKey(net), ne)
}

// DeleteExplorer deletes the NetExplorer for the indicated network.
func DeleteExplorer(c Cache, net string) error {
	return c.Clear(explorerKey(net))
}

// ListenedAssets returns the assets registered for the network.
func ListenedAssets(c Cache, net string) ([]string, error) {
	var assets []string
	if err := loadJSON(c, assetsKey(net), &assets); err != nil && !errors.Is(err, ErrDataNotFound) {
		return nil, err
	}

	return assets, nil
}

// AddAsset registers an asset for the network. It returns false when the asset was already listened.
func AddAsset(c Cache, net, asset string) (bool, error) {
	assets, err := ListenedAssets(c, net)
	if err != nil {
		return false, err
	}

	if util.In(assets, asset) {
		return false, nil
	}

	return true, saveJSON(c, assetsKey(net), append(assets, asset))
}

// RemoveAsset unregisters an asset for the network.
func RemoveAsset(c Cache, net, asset string) error {
	assets, err := ListenedAssets(c, net)
	if err != nil {
		return err
	}

	kept := assets[:0]
	for _, a := range assets {
		if a != asset {
			kept = append(kept, a)
		}
	}

	if len(kept) == len(assets) {
		return ErrDataNotFound
	}

	return saveJSON(c, assetsKey(net), kept)
}

func loadJSON(c Cache, key string, v interface{}) error {
	data, err := c.Load(key)
	if err != nil {
		return err
	}

	if err = json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cannot decode %s: %w", key, err)
	}

	return nil
}

func saveJSON(c Cache, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cannot encode %s: %w", key, err)
	}

	return c.Save(key, data)
}

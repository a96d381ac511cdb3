package main

import (
	"errors"
	"net/url"

	"github.com/manifoldco/promptui"
)

var errDeclined = errors.New("declined by user")

// Replaced in tests
var (
	confirm   = promptConfirm
	promptURL = promptCatalogURL
)

// confirmAction asks a yes/no question unless --yes was given
func confirmAction(label string) (bool, error) {
	if assumeYes {
		return true, nil
	}
	return confirm(label)
}

func promptConfirm(label string) (bool, error) {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}
	_, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func promptCatalogURL(label string) (string, error) {
	prompt := promptui.Prompt{
		Label:    label,
		Validate: validateURL,
	}
	return prompt.Run()
}

// validateURL accepts an empty answer so the url can be filled in later
func validateURL(s string) error {
	if len(s) == 0 {
		return nil
	}
	u, err := url.ParseRequestURI(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("url must use http or https")
	}
	return nil
}

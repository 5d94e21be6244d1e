package routeros

// Typed helpers over Run for the commands the synchronizer needs.

// FindPPPSecret looks up a PPP secret by name and returns its internal id.
func (c *Client) FindPPPSecret(name string) (string, bool, error) {
	replies, err := c.Run("/ppp/secret/print", "?name="+name, "=.proplist=.id,name")
	if err != nil {
		return "", false, err
	}
	for _, r := range replies {
		if r.Word != "!re" {
			continue
		}
		if id, ok := r.Attrs[".id"]; ok {
			return id, true, nil
		}
	}
	return "", false, nil
}

// SetPPPSecret updates attributes on an existing secret.
func (c *Client) SetPPPSecret(id string, attrs map[string]string) error {
	words := []string{"/ppp/secret/set", "=.id=" + id}
	for k, v := range attrs {
		words = append(words, "="+k+"="+v)
	}
	_, err := c.Run(words...)
	return err
}

// RemoveActiveSession drops any live PPP session for the login, forcing the
// subscriber to reconnect under the new credential state.
func (c *Client) RemoveActiveSession(name string) error {
	replies, err := c.Run("/ppp/active/print", "?name="+name, "=.proplist=.id")
	if err != nil {
		return err
	}
	for _, r := range replies {
		if r.Word != "!re" {
			continue
		}
		id, ok := r.Attrs[".id"]
		if !ok {
			continue
		}
		if _, err := c.Run("/ppp/active/remove", "=.id="+id); err != nil {
			return err
		}
	}
	return nil
}

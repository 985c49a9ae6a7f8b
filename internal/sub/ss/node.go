package ss

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/John-Robertt/submerge/internal/model"
)

type kv struct {
	Key   string
	Value string
}

// link is one decoded ss:// URI.
type link struct {
	Name       string
	Server     string
	Port       int
	Cipher     string
	Password   string
	PluginName string
	PluginOpts []kv
}

// node maps lk onto mihomo's ss proxy fields. SIP002 plugin names are
// translated to the names mihomo understands.
func (lk link) node(l *line) (model.Node, error) {
	name := lk.Name
	if name == "" {
		name = net.JoinHostPort(lk.Server, strconv.Itoa(lk.Port))
	}
	attrs := model.Attrs{
		{Key: "type", Value: model.StringNode("ss")},
		{Key: "server", Value: model.StringNode(lk.Server)},
		{Key: "port", Value: model.IntNode(lk.Port)},
		{Key: "cipher", Value: model.StringNode(lk.Cipher)},
		{Key: "password", Value: model.StringNode(lk.Password)},
		{Key: "udp", Value: model.BoolNode(true)},
	}
	if lk.PluginName != "" {
		plugin, opts, err := pluginAttrs(lk)
		if err != nil {
			return model.Node{}, l.fail(codePlugin, err.Error(),
				"example: ?plugin=obfs-local;obfs=tls;obfs-host=example.com", nil)
		}
		attrs = append(attrs,
			model.Attr{Key: "plugin", Value: model.StringNode(plugin)},
			model.Attr{Key: "plugin-opts", Value: opts.MappingNode()},
		)
	}
	return model.Node{ID: name, Name: name, Attrs: attrs}, nil
}

func pluginAttrs(l link) (string, model.Attrs, error) {
	get := func(key string) (string, bool) {
		for _, o := range l.PluginOpts {
			if strings.TrimSpace(o.Key) == key {
				return strings.TrimSpace(o.Value), true
			}
		}
		return "", false
	}

	switch l.PluginName {
	case "simple-obfs", "obfs-local":
		mode, _ := get("obfs")
		if mode == "" {
			return "", nil, errors.New("simple-obfs/obfs-local 缺少必需选项 obfs=<mode>")
		}
		opts := model.Attrs{{Key: "mode", Value: model.StringNode(mode)}}
		if host, ok := get("obfs-host"); ok && host != "" {
			opts = append(opts, model.Attr{Key: "host", Value: model.StringNode(host)})
		}
		return "obfs", opts, nil
	case "v2ray-plugin":
		mode, _ := get("mode")
		if mode == "" {
			mode = "websocket"
		}
		opts := model.Attrs{{Key: "mode", Value: model.StringNode(mode)}}
		if host, ok := get("host"); ok && host != "" {
			opts = append(opts, model.Attr{Key: "host", Value: model.StringNode(host)})
		}
		if path, ok := get("path"); ok && path != "" {
			opts = append(opts, model.Attr{Key: "path", Value: model.StringNode(path)})
		}
		if _, ok := get("tls"); ok {
			opts = append(opts, model.Attr{Key: "tls", Value: model.BoolNode(true)})
		}
		return "v2ray-plugin", opts, nil
	default:
		return "", nil, fmt.Errorf("不支持的 SS plugin：%s", l.PluginName)
	}
}

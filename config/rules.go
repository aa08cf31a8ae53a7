package config

import (
	"sort"
	"strconv"
	"strings"

	"github.com/magiconair/properties"

	"github.com/meoying/shardclient/internal/errs"
)

const rulePrefix = "rule."

// LoadRulesProperties 从 .properties 文件加载规则，格式为
//
//	rule.1.namespace=offer
//	rule.1.shardingExpression=mod(id, 2) == 0
//	rule.1.shards=s1
//
// 规则按照编号从小到大排列
func LoadRulesProperties(path string) ([]Rule, error) {
	p, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return nil, err
	}
	return parseRules(p)
}

func ParseRulesProperties(content string) ([]Rule, error) {
	p, err := properties.LoadString(content)
	if err != nil {
		return nil, err
	}
	return parseRules(p)
}

func parseRules(p *properties.Properties) ([]Rule, error) {
	p = p.FilterStripPrefix(rulePrefix)
	rules := make(map[int]*Rule)
	for _, key := range p.Keys() {
		no, field, ok := strings.Cut(key, ".")
		if !ok {
			return nil, errs.NewRoutingError("非法的规则配置 %s%s", rulePrefix, key)
		}
		idx, err := strconv.Atoi(no)
		if err != nil {
			return nil, errs.NewRoutingError("非法的规则编号 %s%s", rulePrefix, key)
		}
		r, ok := rules[idx]
		if !ok {
			r = &Rule{}
			rules[idx] = r
		}
		val := p.GetString(key, "")
		switch field {
		case "namespace":
			r.Namespace = val
		case "sqlAction":
			r.SQLAction = val
		case "shardingExpression":
			r.ShardingExpression = val
		case "shards":
			r.Shards = val
		case "merger":
			r.Merger = val
		default:
			return nil, errs.NewRoutingError("未知的规则字段 %s%s", rulePrefix, key)
		}
	}
	idxes := make([]int, 0, len(rules))
	for idx := range rules {
		idxes = append(idxes, idx)
	}
	sort.Ints(idxes)
	res := make([]Rule, 0, len(idxes))
	for _, idx := range idxes {
		res = append(res, *rules[idx])
	}
	return res, nil
}

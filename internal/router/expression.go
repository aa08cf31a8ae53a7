package router

import (
	"context"
	"fmt"
	"hash/fnv"
	"reflect"
	"strings"

	"github.com/PaesslerAG/gval"
	"github.com/spf13/cast"

	"github.com/meoying/shardclient/internal/errs"
)

// RootName 表达式里面引用整个路由参数的变量名
const RootName = "root"

// Expression 对路由参数求值，返回该参数是否命中规则
type Expression interface {
	Apply(ctx context.Context, argument any) (bool, error)
	String() string
}

// Function 注册到表达式语言里的自定义函数
type Function func(args ...any) (any, error)

type gvalExpression struct {
	text      string
	evaluable gval.Evaluable
}

// Apply 自定义函数或者取值过程中的 panic 会被转换为 error
func (g *gvalExpression) Apply(ctx context.Context, argument any) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("表达式 %s 求值 panic: %v", g.text, r)
		}
	}()
	return g.evaluable.EvalBool(ctx, scope{root: argument})
}

func (g *gvalExpression) String() string {
	return g.text
}

// Compiler 把文本编译成 Expression，编译结果可以被多个 goroutine 共享
type Compiler struct {
	language gval.Language
}

func NewCompiler(functions map[string]Function) *Compiler {
	langs := []gval.Language{
		gval.VariableSelector(selectVariable),
		gval.Function("mod", modFunc),
		gval.Function("hash", hashFunc),
		gval.Function("between", betweenFunc),
	}
	for name, fn := range functions {
		langs = append(langs, gval.Function(name, func(args ...any) (any, error) {
			return fn(args...)
		}))
	}
	return &Compiler{language: gval.Full(langs...)}
}

func (c *Compiler) Compile(text string) (Expression, error) {
	text = strings.TrimSpace(text)
	eval, err := c.language.NewEvaluable(text)
	if err != nil {
		return nil, errs.NewInvalidExpressionError(text, err)
	}
	return &gvalExpression{text: text, evaluable: eval}, nil
}

// mod(x, n) 取模，x 和 n 都会被转换为整数
func modFunc(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("mod 需要 2 个参数, 实际 %d", len(args))
	}
	x, err := cast.ToInt64E(args[0])
	if err != nil {
		return nil, err
	}
	n, err := cast.ToInt64E(args[1])
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("mod 的除数不能为 0")
	}
	r := x % n
	if r < 0 {
		r += n
	}
	return float64(r), nil
}

// hash(v) FNV-1a 32 位哈希，v 会先被转换为字符串
func hashFunc(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("hash 需要 1 个参数, 实际 %d", len(args))
	}
	s, err := cast.ToStringE(args[0])
	if err != nil {
		return nil, err
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return float64(h.Sum32()), nil
}

// between(v, lo, hi) 闭区间
func betweenFunc(args ...any) (any, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("between 需要 3 个参数, 实际 %d", len(args))
	}
	vals := make([]float64, 0, 3)
	for _, a := range args {
		f, err := cast.ToFloat64E(a)
		if err != nil {
			return nil, err
		}
		vals = append(vals, f)
	}
	return vals[0] >= vals[1] && vals[0] <= vals[2], nil
}

// scope 表达式的顶层变量空间。
// root 指向整个参数，其余变量名直接在参数上查找。
type scope struct {
	root any
}

// selectVariable 解析 a.b.c 形式的变量，map 按 key 查找，struct 按字段名或者 json tag 查找，
// 数值统一转换为 float64
func selectVariable(path gval.Evaluables) gval.Evaluable {
	return func(ctx context.Context, parameter any) (any, error) {
		keys, err := path.EvalStrings(ctx, parameter)
		if err != nil {
			return nil, err
		}
		s, ok := parameter.(scope)
		if !ok {
			return nil, fmt.Errorf("非法的表达式参数 %T", parameter)
		}
		cur := s.root
		for i, key := range keys {
			if i == 0 && key == RootName {
				continue
			}
			cur, err = selectField(cur, key)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", strings.Join(keys[:i+1], "."), err)
			}
		}
		return normalize(cur), nil
	}
}

func normalize(v any) any {
	rv := indirect(reflect.ValueOf(v))
	if !rv.IsValid() {
		return nil
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	default:
		return rv.Interface()
	}
}

func indirect(rv reflect.Value) reflect.Value {
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return reflect.Value{}
		}
		rv = rv.Elem()
	}
	return rv
}

func selectField(container any, key string) (any, error) {
	rv := indirect(reflect.ValueOf(container))
	if !rv.IsValid() {
		return nil, fmt.Errorf("无法在 nil 上读取 %s", key)
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("不支持的 map key 类型 %s", rv.Type().Key())
		}
		val := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !val.IsValid() {
			return nil, fmt.Errorf("参数中没有 %s", key)
		}
		return val.Interface(), nil
	case reflect.Struct:
		f, ok, err := structField(rv, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%s 没有字段 %s", rv.Type(), key)
		}
		return f.Interface(), nil
	default:
		return nil, fmt.Errorf("无法在 %s 类型上读取 %s", rv.Type(), key)
	}
}

// structField 按照字段名、json tag、忽略大小写的字段名依次查找导出字段。
// 字段提升自 nil 的内嵌指针时返回 error
func structField(rv reflect.Value, key string) (reflect.Value, bool, error) {
	typ := rv.Type()
	if sf, ok := typ.FieldByName(key); ok && sf.IsExported() {
		f, err := rv.FieldByIndexErr(sf.Index)
		if err != nil {
			return reflect.Value{}, false, fmt.Errorf("无法读取字段 %s: %w", key, err)
		}
		return f, true, nil
	}
	for i := 0; i < typ.NumField(); i++ {
		sf := typ.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if tag == key || strings.EqualFold(sf.Name, key) {
			return rv.Field(i), true, nil
		}
	}
	return reflect.Value{}, false, nil
}
